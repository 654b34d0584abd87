package models

import (
	"time"
)

// BatchStatus is the lifecycle state of a batch
type BatchStatus string

const (
	BatchStatusDraft     BatchStatus = "draft"
	BatchStatusFetching  BatchStatus = "fetching"
	BatchStatusReady     BatchStatus = "ready"
	BatchStatusSending   BatchStatus = "sending"
	BatchStatusEnqueued  BatchStatus = "enqueued"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// Batch is one fetch/dispatch unit for a provider, company and calendar month
type Batch struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	ProviderCode      string      `gorm:"type:varchar(50);not null;uniqueIndex:ux_batch_key,priority:1" json:"provider_code"`
	CompanyCode       string      `gorm:"type:varchar(50);not null;uniqueIndex:ux_batch_key,priority:2" json:"company_code"`
	MonthKey          string      `gorm:"type:varchar(6);not null;uniqueIndex:ux_batch_key,priority:3" json:"month_key"`
	StartDate         *time.Time  `json:"start_date,omitempty"`
	EndDate           *time.Time  `json:"end_date,omitempty"`
	BcrID             *string     `gorm:"column:bcr_id;type:varchar(64)" json:"bcr_id,omitempty"`
	Status            BatchStatus `gorm:"type:varchar(20);not null;default:'draft';index:idx_batch_status" json:"status"`
	HasResume         bool        `gorm:"not null;default:false" json:"has_resume"`
	AttachmentsDoneAt *time.Time  `json:"attachments_done_at,omitempty"`
	LastError         string      `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Batch
func (Batch) TableName() string {
	return "batches"
}

// HasBcrID reports whether the remote batch reference is known
func (b *Batch) HasBcrID() bool {
	return b.BcrID != nil && *b.BcrID != ""
}

// DateRange returns the batch's fetch window. Without an explicit range the
// calendar month of MonthKey is used; end is exclusive.
func (b *Batch) DateRange() (time.Time, time.Time, error) {
	if b.StartDate != nil && b.EndDate != nil {
		return b.StartDate.UTC(), b.EndDate.UTC(), nil
	}
	start, err := time.Parse("200601", b.MonthKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, 0), nil
}
