package domain

import "time"

// DeliverabilitySnapshot is the per-day aggregate of the event log.
// Rates are percentages (0-100).
type DeliverabilitySnapshot struct {
	Date            string  `json:"date" db:"date"`
	Sent            int     `json:"sent" db:"sent"`
	Bounced         int     `json:"bounced" db:"bounced"`
	Complaints      int     `json:"complaints" db:"complaints"`
	Unsubscribes    int     `json:"unsubscribes" db:"unsubscribes"`
	Opens           int     `json:"opens" db:"opens"`
	Clicks          int     `json:"clicks" db:"clicks"`
	Replies         int     `json:"replies" db:"replies"`
	BounceRate      float64 `json:"bounce_rate" db:"bounce_rate"`
	ComplaintRate   float64 `json:"complaint_rate" db:"complaint_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate" db:"unsubscribe_rate"`
	OpenRate        float64 `json:"open_rate" db:"open_rate"`
	ClickRate       float64 `json:"click_rate" db:"click_rate"`
}

// SendingDomain is a domain the engine sends from.
type SendingDomain struct {
	Name          string   `json:"name" db:"name"`
	SendingIP     string   `json:"sending_ip,omitempty" db:"sending_ip"`
	DKIMSelectors []string `json:"dkim_selectors,omitempty" db:"dkim_selectors"`
	Active        bool     `json:"active" db:"active"`
}

// Listing is a single blacklist hit with delisting metadata.
type Listing struct {
	Zone        string `json:"zone"`
	Tier        string `json:"tier"`
	Answer      string `json:"answer"`
	Reason      string `json:"reason,omitempty"`
	AutoExpires bool   `json:"auto_expires"`
	RemovalURL  string `json:"removal_url,omitempty"`
}

// BlacklistCheck is an append-only record of one scan target.
type BlacklistCheck struct {
	ID          string    `json:"id" db:"id"`
	Target      string    `json:"target" db:"target"`
	TargetType  string    `json:"target_type" db:"target_type"`
	Listed      bool      `json:"listed" db:"listed"`
	Listings    []Listing `json:"listings" db:"listings"`
	Score       int       `json:"score" db:"score"`
	CriticalHit bool      `json:"critical_hit" db:"critical_hit"`
	CheckedAt   time.Time `json:"checked_at" db:"checked_at"`
}

// DNSHealthCheck is an append-only record of one domain audit.
type DNSHealthCheck struct {
	ID        string            `json:"id" db:"id"`
	Domain    string            `json:"domain" db:"domain"`
	Score     int               `json:"score" db:"score"`
	Rating    string            `json:"rating" db:"rating"`
	Issues    []string          `json:"issues" db:"issues"`
	Details   map[string]string `json:"details" db:"details"`
	CheckedAt time.Time         `json:"checked_at" db:"checked_at"`
}
