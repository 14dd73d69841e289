// Package dnsaudit scores the mail authentication setup of a sending
// domain: SPF, DKIM, DMARC, reverse DNS of the sending IP, and MX.
//
// Every check starts from 100 and deducts points for problems. Lookups
// that fail for reasons other than NXDOMAIN are reported as unverified and
// cost nothing, so a flaky resolver never makes a domain look broken.
package dnsaudit

import (
	"time"
)

// Severity of an issue.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityWarning    Severity = "warning"
	SeverityInfo       Severity = "info"
	SeverityUnverified Severity = "unverified"
)

// Rating buckets of the final score.
type Rating string

const (
	RatingHealthy  Rating = "healthy"
	RatingWarning  Rating = "warning"
	RatingCritical Rating = "critical"
)

// RatingFor maps a score onto a rating: 80+ healthy, 50+ warning.
func RatingFor(score int) Rating {
	switch {
	case score >= 80:
		return RatingHealthy
	case score >= 50:
		return RatingWarning
	}
	return RatingCritical
}

// Issue is one finding with its score deduction.
type Issue struct {
	Check     string   `json:"check"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Deduction int      `json:"deduction"`
}

// Check is the outcome of one record family.
type Check struct {
	Name    string            `json:"name"`
	Found   bool              `json:"found"`
	Record  string            `json:"record,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	Issues  []Issue           `json:"issues,omitempty"`
}

func (c *Check) add(sev Severity, deduction int, msg string) {
	c.Issues = append(c.Issues, Issue{Check: c.Name, Severity: sev, Message: msg, Deduction: deduction})
}

func (c *Check) detail(k, v string) {
	if c.Details == nil {
		c.Details = map[string]string{}
	}
	c.Details[k] = v
}

// Report is the full audit of one domain.
type Report struct {
	Domain    string    `json:"domain"`
	SendingIP string    `json:"sending_ip,omitempty"`
	Score     int       `json:"score"`
	Rating    Rating    `json:"rating"`
	SPF       Check     `json:"spf"`
	DKIM      Check     `json:"dkim"`
	DMARC     Check     `json:"dmarc"`
	PTR       Check     `json:"ptr"`
	MX        Check     `json:"mx"`
	CheckedAt time.Time `json:"checked_at"`
}

// Issues returns the findings of every check in a stable order.
func (r *Report) Issues() []Issue {
	var out []Issue
	for _, c := range []*Check{&r.SPF, &r.DKIM, &r.DMARC, &r.PTR, &r.MX} {
		out = append(out, c.Issues...)
	}
	return out
}

func (r *Report) score() {
	score := 100
	for _, is := range r.Issues() {
		score -= is.Deduction
	}
	if score < 0 {
		score = 0
	}
	r.Score = score
	r.Rating = RatingFor(score)
}
