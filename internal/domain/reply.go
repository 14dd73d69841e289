package domain

import "time"

// Reply is an inbound message fetched from a sending account's inbox.
// MessageID is the dedupe key.
type Reply struct {
	MessageID  string    `json:"message_id" db:"message_id"`
	AccountID  string    `json:"account_id" db:"account_id"`
	LeadID     string    `json:"lead_id,omitempty" db:"lead_id"`
	From       string    `json:"from" db:"from_addr"`
	To         string    `json:"to" db:"to_addr"`
	Subject    string    `json:"subject" db:"subject"`
	Preview    string    `json:"preview" db:"preview"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
	AutoReply  bool      `json:"auto_reply" db:"auto_reply"`
}
