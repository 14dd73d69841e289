package domain

import "time"

// Provider is the mailbox provider group of a recipient or sending account.
type Provider string

const (
	ProviderGmail     Provider = "gmail"
	ProviderMicrosoft Provider = "microsoft"
	ProviderYahoo     Provider = "yahoo"
	ProviderApple     Provider = "apple"
	ProviderOther     Provider = "other"
)

// SendWindow restricts sending to certain hours and weekdays in the
// account's timezone. Weekdays is a bitmask where bit 0 is Sunday.
// A zero Weekdays mask means every day.
type SendWindow struct {
	StartHour int    `json:"start_hour" db:"window_start_hour"`
	EndHour   int    `json:"end_hour" db:"window_end_hour"`
	Weekdays  uint8  `json:"weekdays" db:"window_weekdays"`
	Timezone  string `json:"timezone" db:"window_timezone"`
}

// Contains reports whether t falls inside the window. An unknown timezone
// falls back to UTC. StartHour == EndHour means all day.
func (w SendWindow) Contains(t time.Time) bool {
	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	if w.Weekdays != 0 && w.Weekdays&(1<<uint(local.Weekday())) == 0 {
		return false
	}
	if w.StartHour == w.EndHour {
		return true
	}
	h := local.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// overnight window, e.g. 22 -> 6
	return h >= w.StartHour || h < w.EndHour
}

// SendingAccount is a mailbox used to send outreach mail.
// SMTPPassEnc and IMAPPassEnc hold ciphertext; they are decrypted only at
// connect time.
type SendingAccount struct {
	ID                string     `json:"id" db:"id"`
	Email             string     `json:"email" db:"email"`
	DisplayName       string     `json:"display_name" db:"display_name"`
	SMTPHost          string     `json:"smtp_host" db:"smtp_host"`
	SMTPPort          int        `json:"smtp_port" db:"smtp_port"`
	SMTPUser          string     `json:"smtp_user" db:"smtp_user"`
	SMTPPassEnc       string     `json:"-" db:"smtp_pass_enc"`
	IMAPHost          string     `json:"imap_host,omitempty" db:"imap_host"`
	IMAPPort          int        `json:"imap_port,omitempty" db:"imap_port"`
	IMAPUser          string     `json:"imap_user,omitempty" db:"imap_user"`
	IMAPPassEnc       string     `json:"-" db:"imap_pass_enc"`
	Provider          Provider   `json:"provider" db:"provider"`
	WarmupPhase       int        `json:"warmup_phase" db:"warmup_phase"`
	WarmupStartedAt   time.Time  `json:"warmup_started_at" db:"warmup_started_at"`
	DailyLimit        int        `json:"daily_limit" db:"daily_limit"`
	SentToday         int        `json:"sent_today" db:"sent_today"`
	SentTodayDate     string     `json:"sent_today_date" db:"sent_today_date"`
	Window            SendWindow `json:"window"`
	Active            bool       `json:"active" db:"active"`
	DeactivatedReason string     `json:"deactivated_reason,omitempty" db:"deactivated_reason"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// HasIMAP reports whether the account can be polled for replies.
func (a *SendingAccount) HasIMAP() bool {
	return a.IMAPHost != "" && a.IMAPUser != "" && a.IMAPPassEnc != ""
}

// Domain returns the part of the account address after '@'.
func (a *SendingAccount) Domain() string {
	for i := len(a.Email) - 1; i >= 0; i-- {
		if a.Email[i] == '@' {
			return a.Email[i+1:]
		}
	}
	return a.Email
}
