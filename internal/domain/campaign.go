package domain

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign is an outreach campaign with rolling counters.
type Campaign struct {
	ID           string         `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Status       CampaignStatus `json:"status" db:"status"`
	Subject      string         `json:"subject" db:"subject"`
	HTML         string         `json:"html" db:"html"`
	Text         string         `json:"text,omitempty" db:"text"`
	Sent         int            `json:"sent" db:"sent"`
	Bounced      int            `json:"bounced" db:"bounced"`
	Unsubscribed int            `json:"unsubscribed" db:"unsubscribed"`
	Complaints   int            `json:"complaints" db:"complaints"`
	PausedReason string         `json:"paused_reason,omitempty" db:"paused_reason"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// QueueStatus is the state of a lead within a campaign.
type QueueStatus string

const (
	QueueQueued   QueueStatus = "queued"
	QueueSent     QueueStatus = "sent"
	QueueDeferred QueueStatus = "deferred"
	QueueSkipped  QueueStatus = "skipped"
)

// CampaignLead is a lead's position in a campaign's send queue.
type CampaignLead struct {
	CampaignID      string      `json:"campaign_id" db:"campaign_id"`
	LeadID          string      `json:"lead_id" db:"lead_id"`
	Step            int         `json:"step" db:"step"`
	Status          QueueStatus `json:"status" db:"status"`
	NextSendAt      time.Time   `json:"next_send_at" db:"next_send_at"`
	ThreadMessageID string      `json:"thread_message_id,omitempty" db:"thread_message_id"`
	SkipReason      string      `json:"skip_reason,omitempty" db:"skip_reason"`
}

// EnrollmentStatus is the state of a sequence enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// SequenceEnrollment ties a lead to a multi-step follow-up sequence.
type SequenceEnrollment struct {
	ID           string           `json:"id" db:"id"`
	LeadID       string           `json:"lead_id" db:"lead_id"`
	SequenceID   string           `json:"sequence_id" db:"sequence_id"`
	Status       EnrollmentStatus `json:"status" db:"status"`
	PausedReason string           `json:"paused_reason,omitempty" db:"paused_reason"`
}

// CampaignCounter names a rolling counter column on a campaign.
type CampaignCounter string

const (
	CounterSent         CampaignCounter = "sent"
	CounterBounced      CampaignCounter = "bounced"
	CounterUnsubscribed CampaignCounter = "unsubscribed"
	CounterComplaints   CampaignCounter = "complaints"
)
