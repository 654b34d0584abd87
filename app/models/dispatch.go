package models

import "time"

// DispatchType tells which loop produced a dispatch
type DispatchType string

const (
	DispatchTypeNormalSend        DispatchType = "normal_send"
	DispatchTypeRetrySend         DispatchType = "retry_send"
	DispatchTypeRequeueIncomplete DispatchType = "requeue_incomplete"
)

// DispatchStatus is the outcome of one network submission
type DispatchStatus string

const (
	DispatchStatusReady              DispatchStatus = "ready"
	DispatchStatusInFlight           DispatchStatus = "in_flight"
	DispatchStatusSucceeded          DispatchStatus = "succeeded"
	DispatchStatusFailed             DispatchStatus = "failed"
	DispatchStatusPartiallySucceeded DispatchStatus = "partially_succeeded"
)

// DispatchItemResult is the per-claim outcome within a dispatch
type DispatchItemResult string

const (
	DispatchItemResultUnknown DispatchItemResult = "unknown"
	DispatchItemResultSuccess DispatchItemResult = "success"
	DispatchItemResultFail    DispatchItemResult = "fail"
)

// Dispatch is one network call carrying a packet of claims for a batch
type Dispatch struct {
	DispatchID    string         `gorm:"type:varchar(36);primaryKey" json:"dispatch_id"`
	ProviderCode  string         `gorm:"type:varchar(50);not null" json:"provider_code"`
	BatchID       uint           `gorm:"not null;uniqueIndex:ux_dispatch_seq,priority:1" json:"batch_id"`
	BcrID         string         `gorm:"column:bcr_id;type:varchar(64)" json:"bcr_id"`
	SequenceNo    int            `gorm:"not null;uniqueIndex:ux_dispatch_seq,priority:2" json:"sequence_no"`
	DispatchType  DispatchType   `gorm:"type:varchar(30);not null" json:"dispatch_type"`
	Status        DispatchStatus `gorm:"type:varchar(30);not null;index:idx_dispatch_status" json:"status"`
	AttemptCount  int            `gorm:"not null;default:0" json:"attempt_count"`
	NextRetryAt   *time.Time     `json:"next_retry_at,omitempty"`
	CorrelationID string         `gorm:"type:varchar(36)" json:"correlation_id"`
	HTTPStatus    *int           `gorm:"column:http_status" json:"http_status,omitempty"`
	LastError     string         `gorm:"type:text" json:"last_error,omitempty"`
	Items         []DispatchItem `gorm:"foreignKey:DispatchID;references:DispatchID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Dispatch
func (Dispatch) TableName() string {
	return "dispatches"
}

// DispatchItem is one claim inside a dispatch
type DispatchItem struct {
	DispatchID   string             `gorm:"type:varchar(36);primaryKey" json:"dispatch_id"`
	ProviderCode string             `gorm:"type:varchar(50);primaryKey" json:"provider_code"`
	ClaimID      int64              `gorm:"primaryKey;autoIncrement:false" json:"claim_id"`
	ItemOrder    int                `gorm:"not null" json:"item_order"`
	Result       DispatchItemResult `gorm:"type:varchar(20);not null;default:'unknown'" json:"result"`
	ErrorMessage string             `gorm:"type:text" json:"error_message,omitempty"`
}

// TableName returns the table name for DispatchItem
func (DispatchItem) TableName() string {
	return "dispatch_items"
}

// AggregateDispatchStatus folds item outcomes into the dispatch status.
// An empty packet counts as failed.
func AggregateDispatchStatus(succeeded, total int) DispatchStatus {
	switch {
	case total == 0 || succeeded == 0:
		return DispatchStatusFailed
	case succeeded == total:
		return DispatchStatusSucceeded
	default:
		return DispatchStatusPartiallySucceeded
	}
}
