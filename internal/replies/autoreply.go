package replies

import (
	"regexp"
	"strings"
)

var autoSubjectPatterns = compileAll(
	`^auto(matic)?[ -]?(reply|response)`,
	`^out of (the )?office`,
	`\bout of office\b`,
	`\bautoreply\b`,
	`\bon vacation\b`,
	`\bon leave\b`,
	`\babsence (notice|notification)\b`,
	`\baway from (the )?office\b`,
	`^undeliverable`,
	`^delivery status notification`,
	`^mail delivery (failed|failure|subsystem)`,
	`^returned mail`,
	`\bread receipt\b`,
	`^abwesenheit`,
	`^r[ée]ponse automatique`,
	`^respuesta autom[áa]tica`,
)

var autoBodyPatterns = compileAll(
	`\bi am (currently )?out of (the )?office\b`,
	`\bi'?m (currently )?out of (the )?office\b`,
	`\bi (am|will be) (away|on vacation|on leave|on holiday)\b`,
	`\b(limited|no) access to (my )?e-?mail\b`,
	`\bwill (respond|reply|get back to you) (to your (e-?mail|message) )?(when|upon) (i|my) return\b`,
	`\bthis is an automated (reply|response|message)\b`,
	`\bthis (e-?mail|mailbox) is (no longer|not) (monitored|in use)\b`,
	`\bplease do not reply to this (e-?mail|message)\b`,
	`\bthank you for your (e-?mail|message)[.,]? (i|we) will\b`,
	`\bon parental leave\b`,
	`\bon maternity leave\b`,
	`\breturning on\b`,
)

var autoFromPrefixes = []string{
	"mailer-daemon@", "postmaster@", "noreply@", "no-reply@", "donotreply@",
	"do-not-reply@", "auto-reply@", "autoreply@", "bounce@", "bounces@",
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// IsAutoReply reports whether a message looks machine-generated: an
// out-of-office, an autoresponder or a delivery notice.
func IsAutoReply(subject, body, from string) bool {
	from = strings.ToLower(strings.TrimSpace(from))
	for _, p := range autoFromPrefixes {
		if strings.HasPrefix(from, p) || strings.Contains(from, "<"+p) {
			return true
		}
	}
	s := strings.TrimSpace(subject)
	for _, re := range autoSubjectPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	for _, re := range autoBodyPatterns {
		if re.MatchString(body) {
			return true
		}
	}
	return false
}

// isAutoMessage adds the RFC 3834 header to the content heuristics.
func isAutoMessage(m Message) bool {
	if m.AutoSubmitted != "" && m.AutoSubmitted != "no" {
		return true
	}
	return IsAutoReply(m.Subject, m.Preview, m.FromAddress)
}
