package mailer

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-smtp"
)

// Kind is the closed set of delivery failure classes.
type Kind int

const (
	// Unknown failures are transport problems: no lead state changes.
	Unknown Kind = iota
	Hard
	Soft
	PolicyReject
)

func (k Kind) String() string {
	switch k {
	case Hard:
		return "hard"
	case Soft:
		return "soft"
	case PolicyReject:
		return "policy"
	default:
		return "unknown"
	}
}

// IsBounce reports whether the recipient server answered with a rejection.
func (k Kind) IsBounce() bool { return k != Unknown }

// Classification describes a send failure.
type Classification struct {
	Kind     Kind
	Code     int
	Enhanced string
	Reason   string
}

var (
	codeRe     = regexp.MustCompile(`\b([245]\d\d)[\s-]`)
	enhancedRe = regexp.MustCompile(`\b([245])\.(\d{1,3})\.(\d{1,3})\b`)

	policyWords = []string{
		"spam", "blocked", "blacklist", "blocklist", "block list", "reputation",
		"policy", "rejected due to", "not allowed", "dmarc", "spf", "dkim",
		"authentication", "listed", "abuse",
	}
	softWords = []string{
		"mailbox full", "quota", "over quota", "insufficient storage", "greylist",
		"graylist", "try again", "temporarily", "temporary", "rate limit",
		"too many", "deferred", "service unavailable", "connection limit",
	}
	hardWords = []string{
		"user unknown", "no such user", "does not exist", "unknown user",
		"recipient rejected", "invalid recipient", "mailbox unavailable",
		"address rejected", "no mailbox", "unrouteable", "undeliverable",
		"account disabled", "not found",
	}
)

// Classify maps a send error onto a Kind. It looks at a typed SMTP error
// first, then any reply code and RFC 3463 enhanced code in the text, and
// finally keyword heuristics.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: Unknown}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: Unknown, Reason: "timeout"}
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrSenderUnavailable) || errors.Is(err, ErrNoCredentials) {
		return Classification{Kind: Unknown, Reason: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Kind: Unknown, Reason: "network: " + err.Error()}
	}

	var c Classification
	var text string
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		c.Code = smtpErr.Code
		if e := smtpErr.EnhancedCode; e != smtp.NoEnhancedCode && e != (smtp.EnhancedCode{}) {
			c.Enhanced = strconv.Itoa(e[0]) + "." + strconv.Itoa(e[1]) + "." + strconv.Itoa(e[2])
		}
		text = smtpErr.Message
	} else {
		text = err.Error()
	}
	if c.Code == 0 {
		if m := codeRe.FindStringSubmatch(text + " "); m != nil {
			c.Code, _ = strconv.Atoi(m[1])
		}
	}
	if c.Enhanced == "" {
		if m := enhancedRe.FindString(text); m != "" {
			c.Enhanced = m
		}
	}
	c.Reason = strings.TrimSpace(text)
	c.Kind = classify(c.Code, c.Enhanced, strings.ToLower(text))
	return c
}

// ClassifyReply classifies a textual server reply with no wrapped error.
func ClassifyReply(code int, enhanced, text string) Classification {
	return Classification{
		Kind:     classify(code, enhanced, strings.ToLower(text)),
		Code:     code,
		Enhanced: enhanced,
		Reason:   text,
	}
}

func classify(code int, enhanced, lower string) Kind {
	enhClass := ""
	if enhanced != "" {
		enhClass = enhanced[:1]
	}
	permanent := code >= 500 || enhClass == "5"
	temporary := (code >= 400 && code < 500) || enhClass == "4"

	switch {
	case strings.HasPrefix(enhanced, "5.7."):
		return PolicyReject
	case enhanced == "5.2.2" || containsAny(lower, "mailbox full", "quota"):
		return Soft
	case temporary:
		return Soft
	case permanent && containsAny(lower, policyWords...):
		return PolicyReject
	case permanent:
		return Hard
	}

	// No code at all: keywords decide.
	switch {
	case containsAny(lower, softWords...):
		return Soft
	case containsAny(lower, policyWords...):
		return PolicyReject
	case containsAny(lower, hardWords...):
		return Hard
	}
	return Unknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
