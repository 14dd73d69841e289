package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/emersion/go-smtp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		code     int
		enhanced string
	}{
		{"typed user unknown", &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "User unknown"}, Hard, 550, "5.1.1"},
		{"typed mailbox full", &smtp.SMTPError{Code: 552, EnhancedCode: smtp.EnhancedCode{5, 2, 2}, Message: "Mailbox full"}, Soft, 552, "5.2.2"},
		{"typed policy", &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 7, 1}, Message: "Message rejected"}, PolicyReject, 550, "5.7.1"},
		{"typed temporary", &smtp.SMTPError{Code: 421, EnhancedCode: smtp.EnhancedCode{4, 7, 0}, Message: "Try again later"}, Soft, 421, "4.7.0"},
		{"wrapped typed", fmt.Errorf("RCPT TO: %w", &smtp.SMTPError{Code: 550, Message: "no such user"}), Hard, 550, ""},
		{"text with enhanced policy", errors.New("550 5.7.1 blocked using zen.spamhaus.org"), PolicyReject, 550, "5.7.1"},
		{"text permanent spam", errors.New("554 delivery error: spam content detected"), PolicyReject, 554, ""},
		{"text greylist", errors.New("450 greylisted, come back later"), Soft, 450, ""},
		{"text permanent plain", errors.New("550 requested action not taken"), Hard, 550, ""},
		{"keywords quota", errors.New("recipient mailbox is over quota"), Soft, 0, ""},
		{"keywords hard", errors.New("recipient address rejected: user unknown"), Hard, 0, ""},
		{"keywords policy", errors.New("message blocked by reputation filter"), PolicyReject, 0, ""},
		{"deadline", context.DeadlineExceeded, Unknown, 0, ""},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, Unknown, 0, ""},
		{"throttled", fmt.Errorf("%w: slow down", ErrThrottled), Unknown, 0, ""},
		{"sender auth", fmt.Errorf("%w: SMTP AUTH: %w", ErrSenderUnavailable, &smtp.SMTPError{Code: 535, EnhancedCode: smtp.EnhancedCode{5, 7, 8}}), Unknown, 0, ""},
		{"gibberish", errors.New("something odd happened"), Unknown, 0, ""},
		{"nil", nil, Unknown, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			if c.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v (reason %q)", c.Kind, tt.kind, c.Reason)
			}
			if c.Code != tt.code {
				t.Errorf("Code = %d, want %d", c.Code, tt.code)
			}
			if c.Enhanced != tt.enhanced {
				t.Errorf("Enhanced = %q, want %q", c.Enhanced, tt.enhanced)
			}
		})
	}
}

func TestFourHundredNeverHard(t *testing.T) {
	for _, msg := range []string{"user unknown", "no such user", "does not exist", "spam"} {
		c := ClassifyReply(450, "", msg)
		if c.Kind != Soft {
			t.Errorf("450 %q classified %v, want soft", msg, c.Kind)
		}
	}
}

func TestKindIsBounce(t *testing.T) {
	if Unknown.IsBounce() {
		t.Error("unknown is not a bounce")
	}
	for _, k := range []Kind{Hard, Soft, PolicyReject} {
		if !k.IsBounce() {
			t.Errorf("%v should be a bounce", k)
		}
	}
}
