package models

import "time"

// MappingStatus is the approval state of a missing domain mapping
type MappingStatus string

const (
	MappingStatusMissing    MappingStatus = "missing"
	MappingStatusPosted     MappingStatus = "posted"
	MappingStatusApproved   MappingStatus = "approved"
	MappingStatusPostFailed MappingStatus = "post_failed"
)

// DiscoverySource tells how a missing mapping was found
type DiscoverySource string

const (
	DiscoverySourceFromAPI        DiscoverySource = "fromApi"
	DiscoverySourceScannedLocally DiscoverySource = "scannedLocally"
)

// ApprovedDomainMapping translates a provider value to the canonical value of a domain table
type ApprovedDomainMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProviderCode    string    `gorm:"type:varchar(50);not null;uniqueIndex:ux_approved_mapping,priority:1" json:"provider_code"`
	DomainTableID   int       `gorm:"not null;uniqueIndex:ux_approved_mapping,priority:2" json:"domain_table_id"`
	DomainTableName string    `gorm:"type:varchar(100)" json:"domain_table_name"`
	SourceValue     string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_approved_mapping,priority:3" json:"source_value"`
	TargetValue     string    `gorm:"type:varchar(255);not null" json:"target_value"`
	CodeValue       string    `gorm:"type:varchar(255)" json:"code_value,omitempty"`
	DisplayValue    string    `gorm:"type:varchar(255)" json:"display_value,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ApprovedDomainMapping
func (ApprovedDomainMapping) TableName() string {
	return "approved_domain_mappings"
}

// MissingDomainMapping records a provider value that has no approved translation yet
type MissingDomainMapping struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	ProviderCode      string          `gorm:"type:varchar(50);not null;uniqueIndex:ux_missing_mapping,priority:1" json:"provider_code"`
	DomainTableID     int             `gorm:"not null;uniqueIndex:ux_missing_mapping,priority:2" json:"domain_table_id"`
	DomainTableName   string          `gorm:"type:varchar(100)" json:"domain_table_name"`
	SourceValue       string          `gorm:"type:varchar(255);not null;uniqueIndex:ux_missing_mapping,priority:3" json:"source_value"`
	DiscoverySource   DiscoverySource `gorm:"type:varchar(20);not null" json:"discovery_source"`
	Status            MappingStatus   `gorm:"type:varchar(20);not null;default:'missing';index" json:"status"`
	LastPostAttemptAt *time.Time      `json:"last_post_attempt_at,omitempty"`
	LastError         string          `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for MissingDomainMapping
func (MissingDomainMapping) TableName() string {
	return "missing_domain_mappings"
}
