package domain

import "time"

// SoftBounce is a queued retry of a temporarily rejected message.
type SoftBounce struct {
	ID         string `json:"id" db:"id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	AccountID  string `json:"account_id,omitempty" db:"account_id"`
	Email      string `json:"email" db:"email"`
	Subject    string `json:"subject" db:"subject"`
	HTML       string `json:"html" db:"html"`
	// UnsubscribeURL is the List-Unsubscribe target of the original send.
	UnsubscribeURL string    `json:"unsubscribe_url,omitempty" db:"unsubscribe_url"`
	Retries        int       `json:"retries" db:"retries"`
	NextRetry      time.Time `json:"next_retry" db:"next_retry"`
	Error          string    `json:"error" db:"error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
