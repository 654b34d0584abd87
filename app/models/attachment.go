package models

import (
	"fmt"
	"time"
)

// AttachmentSourceType describes where an attachment's content lives
type AttachmentSourceType string

const (
	AttachmentSourceFilePath           AttachmentSourceType = "file_path"
	AttachmentSourceRawBytesInLocation AttachmentSourceType = "raw_bytes_in_location"
	AttachmentSourceBase64InAttachBit  AttachmentSourceType = "base64_in_attach_bit"
)

// UploadStatus is the upload state of an attachment
type UploadStatus string

const (
	UploadStatusNotStaged UploadStatus = "not_staged"
	UploadStatusStaged    UploadStatus = "staged"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusFailed    UploadStatus = "failed"
)

// Attachment is one file associated with a claim. Location, inline content and
// the remote URL are stored encrypted.
type Attachment struct {
	AttachmentID     string               `gorm:"type:varchar(200);primaryKey" json:"attachment_id"`
	ProviderCode     string               `gorm:"type:varchar(50);not null;index:idx_attachment_claim,priority:1" json:"provider_code"`
	ClaimID          int64                `gorm:"not null;index:idx_attachment_claim,priority:2" json:"claim_id"`
	BatchID          *uint                `gorm:"index" json:"batch_id,omitempty"`
	SourceType       AttachmentSourceType `gorm:"type:varchar(30);not null" json:"source_type"`
	LocationPathEnc  []byte               `json:"-"`
	LocationBytesEnc []byte               `json:"-"`
	AttachBitEnc     []byte               `json:"-"`
	FileName         string               `gorm:"type:varchar(255)" json:"file_name"`
	ContentType      string               `gorm:"type:varchar(100)" json:"content_type"`
	SizeBytes        *int64               `json:"size_bytes,omitempty"`
	SHA256           string               `gorm:"column:sha256;type:varchar(64)" json:"sha256,omitempty"`
	Remarks          string               `gorm:"type:text" json:"remarks,omitempty"`
	UploadStatus     UploadStatus         `gorm:"type:varchar(20);not null;default:'not_staged';index" json:"upload_status"`
	OnlineURLEnc     []byte               `json:"-"`
	AttemptCount     int                  `gorm:"not null;default:0" json:"attempt_count"`
	NextRetryAt      *time.Time           `json:"next_retry_at,omitempty"`
	LastError        string               `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt        time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Attachment
func (Attachment) TableName() string {
	return "attachments"
}

// AttachmentIdentity builds the composite attachment id
func AttachmentIdentity(providerCode string, claimID int64, sourceID string) string {
	return fmt.Sprintf("%s_%d_%s", providerCode, claimID, sourceID)
}
