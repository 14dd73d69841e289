// Package httputil holds the JSON response and request helpers shared by the
// engine's HTTP handlers, so every endpoint writes the same error envelope.
package httputil
