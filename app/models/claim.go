package models

import (
	"time"
)

// EnqueueStatus governs whether a claim has been handed to the remote intake
type EnqueueStatus string

const (
	EnqueueStatusNotSent  EnqueueStatus = "not_sent"
	EnqueueStatusInFlight EnqueueStatus = "in_flight"
	EnqueueStatusEnqueued EnqueueStatus = "enqueued"
	EnqueueStatusFailed   EnqueueStatus = "failed"
)

// CompletionStatus tracks downstream adjudication, independent of EnqueueStatus
type CompletionStatus string

const (
	CompletionStatusUnknown   CompletionStatus = "unknown"
	CompletionStatusCompleted CompletionStatus = "completed"
)

// Lease owner tags. Crash recovery restores an expired lease based on the tag.
const (
	LeaseOwnerSender  = "Sender"
	LeaseOwnerRetry   = "Retry"
	LeaseOwnerRequeue = "Requeue"
)

// ClaimKey identifies a claim within the store
type ClaimKey struct {
	ProviderCode string `json:"provider_code"`
	ClaimID      int64  `json:"claim_id"`
}

// Claim is one source-system claim tracked through staging and dispatch
type Claim struct {
	ProviderCode        string           `gorm:"type:varchar(50);primaryKey" json:"provider_code"`
	ClaimID             int64            `gorm:"primaryKey;autoIncrement:false" json:"claim_id"`
	CompanyCode         string           `gorm:"type:varchar(50)" json:"company_code"`
	BatchID             *uint            `gorm:"index:idx_claim_batch" json:"batch_id,omitempty"`
	BcrID               *string          `gorm:"column:bcr_id;type:varchar(64)" json:"bcr_id,omitempty"`
	MonthKey            string           `gorm:"type:varchar(6)" json:"month_key"`
	EnqueueStatus       EnqueueStatus    `gorm:"type:varchar(20);not null;default:'not_sent';index:idx_claim_enqueue" json:"enqueue_status"`
	CompletionStatus    CompletionStatus `gorm:"type:varchar(20);not null;default:'unknown'" json:"completion_status"`
	LockedBy            *string          `gorm:"type:varchar(20)" json:"locked_by,omitempty"`
	InFlightUntil       *time.Time       `json:"in_flight_until,omitempty"`
	AttemptCount        int              `gorm:"not null;default:0" json:"attempt_count"`
	NextRetryAt         *time.Time       `json:"next_retry_at,omitempty"`
	LastError           string           `gorm:"type:text" json:"last_error,omitempty"`
	LastEnqueuedAt      *time.Time       `json:"last_enqueued_at,omitempty"`
	LastResumeCheckedAt *time.Time       `json:"last_resume_checked_at,omitempty"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Claim
func (Claim) TableName() string {
	return "claims"
}

// Key returns the claim's store key
func (c *Claim) Key() ClaimKey {
	return ClaimKey{ProviderCode: c.ProviderCode, ClaimID: c.ClaimID}
}

// IsLeased reports whether the claim holds a lease that has not expired at now
func (c *Claim) IsLeased(now time.Time) bool {
	return c.LockedBy != nil && c.InFlightUntil != nil && c.InFlightUntil.After(now)
}
