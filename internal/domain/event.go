package domain

import "time"

// EventType enumerates the append-only email event log entries.
type EventType string

const (
	EventSent         EventType = "sent"
	EventBounced      EventType = "bounced"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventReplied      EventType = "replied"
	EventUnsubscribed EventType = "unsubscribed"
	EventComplained   EventType = "complained"
)

// EmailEvent is an immutable record of something that happened to a lead.
type EmailEvent struct {
	ID         string            `json:"id" db:"id"`
	LeadID     string            `json:"lead_id" db:"lead_id"`
	AccountID  string            `json:"account_id,omitempty" db:"account_id"`
	CampaignID string            `json:"campaign_id,omitempty" db:"campaign_id"`
	Type       EventType         `json:"type" db:"type"`
	Details    map[string]string `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}
