package models

import "time"

// ClaimPayload holds the encrypted canonical bundle of a claim
type ClaimPayload struct {
	ProviderCode   string    `gorm:"type:varchar(50);primaryKey" json:"provider_code"`
	ClaimID        int64     `gorm:"primaryKey;autoIncrement:false" json:"claim_id"`
	PayloadEnc     []byte    `gorm:"not null" json:"-"`
	PayloadHash    string    `gorm:"type:varchar(64);not null" json:"payload_hash"`
	PayloadVersion int       `gorm:"not null;default:1" json:"payload_version"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ClaimPayload
func (ClaimPayload) TableName() string {
	return "claim_payloads"
}
