package domain

import "time"

// AuditEntry records a system-level action such as a global pause.
type AuditEntry struct {
	ID        string            `json:"id" db:"id"`
	Action    string            `json:"action" db:"action"`
	Actor     string            `json:"actor" db:"actor"`
	Details   map[string]string `json:"details,omitempty" db:"details"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Audit actions.
const (
	AuditGlobalPause    = "global_pause"
	AuditGlobalResume   = "global_resume"
	AuditCampaignPause  = "campaign_auto_pause"
	AuditWarmupAdvanced = "warmup_advanced"
)

// PauseState is the persisted system-wide sending kill switch.
type PauseState struct {
	Paused bool      `json:"paused"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}
