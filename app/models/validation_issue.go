package models

import "time"

// ValidationIssue records malformed source data found while staging
type ValidationIssue struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ProviderCode string    `gorm:"type:varchar(50);not null" json:"provider_code"`
	BatchID      *uint     `gorm:"index" json:"batch_id,omitempty"`
	ClaimID      *int64    `json:"claim_id,omitempty"`
	IssueType    string    `gorm:"type:varchar(50);not null" json:"issue_type"`
	FieldPath    string    `gorm:"type:varchar(255)" json:"field_path,omitempty"`
	RawValue     string    `gorm:"type:text" json:"raw_value,omitempty"`
	Message      string    `gorm:"type:text" json:"message"`
	IsBlocking   bool      `gorm:"not null;default:true" json:"is_blocking"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for ValidationIssue
func (ValidationIssue) TableName() string {
	return "validation_issues"
}
