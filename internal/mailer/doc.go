// Package mailer composes outreach messages, submits them over SMTP or SES,
// classifies delivery failures, and applies bounce consequences including
// the soft-bounce retry queue.
//
// The package never holds decrypted credentials longer than one connection
// setup: passwords are decrypted by Client at send time and handed to the
// transport.
package mailer
