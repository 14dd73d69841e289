package domain

import (
	"testing"
	"time"
)

func TestSendWindowContains(t *testing.T) {
	// 2025-03-05 is a Wednesday.
	at := func(h int) time.Time { return time.Date(2025, 3, 5, h, 30, 0, 0, time.UTC) }
	weekdaysOnly := uint8(0b0111110)

	tests := []struct {
		name string
		w    SendWindow
		t    time.Time
		want bool
	}{
		{"inside business hours", SendWindow{StartHour: 9, EndHour: 17}, at(10), true},
		{"before start", SendWindow{StartHour: 9, EndHour: 17}, at(8), false},
		{"end is exclusive", SendWindow{StartHour: 9, EndHour: 17}, at(17), false},
		{"all day", SendWindow{}, at(3), true},
		{"overnight late", SendWindow{StartHour: 22, EndHour: 6}, at(23), true},
		{"overnight early", SendWindow{StartHour: 22, EndHour: 6}, at(5), true},
		{"overnight midday", SendWindow{StartHour: 22, EndHour: 6}, at(12), false},
		{"weekday allowed", SendWindow{StartHour: 9, EndHour: 17, Weekdays: weekdaysOnly}, at(10), true},
		{"weekend blocked", SendWindow{StartHour: 9, EndHour: 17, Weekdays: weekdaysOnly}, at(10).AddDate(0, 0, 3), false},
		{"timezone shifts hour", SendWindow{StartHour: 9, EndHour: 17, Timezone: "America/New_York"}, at(10), false},
		{"unknown timezone is utc", SendWindow{StartHour: 9, EndHour: 17, Timezone: "Mars/Base"}, at(10), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.Contains(tt.t); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestLeadIsSuppressed(t *testing.T) {
	now := time.Now()
	if (&Lead{}).IsSuppressed() {
		t.Error("fresh lead should not be suppressed")
	}
	if !(&Lead{Unsubscribed: true}).IsSuppressed() {
		t.Error("unsubscribed lead should be suppressed")
	}
	if !(&Lead{ComplainedAt: &now}).IsSuppressed() {
		t.Error("complained lead should be suppressed")
	}
	if !(&Lead{BounceType: BounceHard}).IsSuppressed() {
		t.Error("hard bounced lead should be suppressed")
	}
	if (&Lead{BounceType: BounceSoft}).IsSuppressed() {
		t.Error("soft bounce alone should not suppress")
	}
}

func TestAccountDomain(t *testing.T) {
	a := &SendingAccount{Email: "jane@outreach.example.com"}
	if got := a.Domain(); got != "outreach.example.com" {
		t.Errorf("Domain() = %q", got)
	}
}
