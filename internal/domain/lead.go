package domain

import "time"

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	LeadActive       LeadStatus = "active"
	LeadReplied      LeadStatus = "replied"
	LeadBounced      LeadStatus = "bounced"
	LeadUnsubscribed LeadStatus = "unsubscribed"
	LeadComplained   LeadStatus = "complained"
)

// BounceType records the worst bounce seen for a lead.
type BounceType string

const (
	BounceNone BounceType = ""
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// VerifyResult is the outcome of third-party address verification.
type VerifyResult string

const (
	VerifyUnknown    VerifyResult = "unknown"
	VerifyValid      VerifyResult = "valid"
	VerifyInvalid    VerifyResult = "invalid"
	VerifyDisposable VerifyResult = "disposable"
	VerifyCatchAll   VerifyResult = "catch_all"
)

// Lead is a recipient of outreach mail.
type Lead struct {
	ID              string       `json:"id" db:"id"`
	Email           string       `json:"email" db:"email"`
	FirstName       string       `json:"first_name,omitempty" db:"first_name"`
	LastName        string       `json:"last_name,omitempty" db:"last_name"`
	Company         string       `json:"company,omitempty" db:"company"`
	Status          LeadStatus   `json:"status" db:"status"`
	Unsubscribed    bool         `json:"unsubscribed" db:"unsubscribed"`
	ComplainedAt    *time.Time   `json:"complained_at,omitempty" db:"complained_at"`
	BounceCount     int          `json:"bounce_count" db:"bounce_count"`
	BounceType      BounceType   `json:"bounce_type,omitempty" db:"bounce_type"`
	LastBounceAt    *time.Time   `json:"last_bounce_at,omitempty" db:"last_bounce_at"`
	EngagementScore int          `json:"engagement_score" db:"engagement_score"`
	LastEngagedAt   *time.Time   `json:"last_engaged_at,omitempty" db:"last_engaged_at"`
	EmailsSent      int          `json:"emails_sent" db:"emails_sent"`
	LastEmailAt     *time.Time   `json:"last_email_at,omitempty" db:"last_email_at"`
	VerifyResult    VerifyResult `json:"verify_result,omitempty" db:"verify_result"`
	RepliedAt       *time.Time   `json:"replied_at,omitempty" db:"replied_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// IsSuppressed reports whether the lead must never be mailed again.
func (l *Lead) IsSuppressed() bool {
	return l.Unsubscribed || l.ComplainedAt != nil || l.BounceType == BounceHard
}
