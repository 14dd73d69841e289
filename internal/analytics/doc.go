// Package analytics aggregates the event log into daily deliverability
// snapshots, detects bounce and complaint trends with a least-squares fit,
// and pauses campaigns whose rates exceed their ceilings.
package analytics
