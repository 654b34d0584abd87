package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// domainMappingRepository implements the DomainMappingRepository interface
type domainMappingRepository struct {
	db *gorm.DB
}

// NewDomainMappingRepository creates a new domain mapping repository instance
func NewDomainMappingRepository(db *gorm.DB) DomainMappingRepository {
	return &domainMappingRepository{db: db}
}

// ApprovedForProvider lists all approved mappings of a provider
func (r *domainMappingRepository) ApprovedForProvider(providerCode string) ([]models.ApprovedDomainMapping, error) {
	var items []models.ApprovedDomainMapping
	err := r.db.Where("provider_code = ?", providerCode).Order("domain_table_id, source_value").Find(&items).Error
	return items, err
}

// UpsertApproved stores approved mappings and flips matching missing rows to approved
func (r *domainMappingRepository) UpsertApproved(items []models.ApprovedDomainMapping, now time.Time) error {
	for i := range items {
		item := items[i]
		item.ID = 0
		item.CreatedAt = now
		item.UpdatedAt = now

		err := r.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_code"}, {Name: "domain_table_id"}, {Name: "source_value"}},
			DoUpdates: clause.AssignmentColumns([]string{"domain_table_name", "target_value", "code_value", "display_value", "updated_at"}),
		}).Create(&item).Error
		if err != nil {
			return err
		}

		err = r.db.Model(&models.MissingDomainMapping{}).
			Where("provider_code = ? AND domain_table_id = ? AND source_value = ?", item.ProviderCode, item.DomainTableID, item.SourceValue).
			Updates(map[string]interface{}{
				"status":     models.MappingStatusApproved,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertMissing inserts missing mappings that are neither approved nor
// already recorded as missing. It returns the number of new rows.
func (r *domainMappingRepository) UpsertMissing(items []models.MissingDomainMapping, now time.Time) (int64, error) {
	var inserted int64
	for _, item := range items {
		status := item.Status
		if status == "" {
			status = models.MappingStatusMissing
		}
		res := r.db.Exec(`INSERT INTO missing_domain_mappings
	(provider_code, domain_table_id, domain_table_name, source_value, discovery_source, status, last_error, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?, '', ?, ?
WHERE NOT EXISTS (
	SELECT 1 FROM approved_domain_mappings a
	WHERE a.provider_code = ? AND a.domain_table_id = ? AND a.source_value = ?
)
ON CONFLICT(provider_code, domain_table_id, source_value) DO NOTHING`,
			item.ProviderCode, item.DomainTableID, item.DomainTableName, item.SourceValue, item.DiscoverySource, status, now, now,
			item.ProviderCode, item.DomainTableID, item.SourceValue,
		)
		if res.Error != nil {
			return inserted, res.Error
		}
		inserted += res.RowsAffected
	}
	return inserted, nil
}

// ListEligibleForPost lists missing mappings that have not been posted yet or failed to post
func (r *domainMappingRepository) ListEligibleForPost(providerCode string, limit int) ([]models.MissingDomainMapping, error) {
	var items []models.MissingDomainMapping
	q := r.db.Where("provider_code = ? AND status IN ?", providerCode,
		[]models.MappingStatus{models.MappingStatusMissing, models.MappingStatusPostFailed}).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&items).Error
	return items, err
}

// SetMissingStatus updates the post status of missing mappings
func (r *domainMappingRepository) SetMissingStatus(ids []uint, status models.MappingStatus, lastError string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.MissingDomainMapping{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"status":               status,
		"last_error":           lastError,
		"last_post_attempt_at": now,
		"updated_at":           now,
	}).Error
}

// ListMissing lists a provider's missing mappings, optionally filtered by status
func (r *domainMappingRepository) ListMissing(providerCode string, status *models.MappingStatus) ([]models.MissingDomainMapping, error) {
	var items []models.MissingDomainMapping
	q := r.db.Where("provider_code = ?", providerCode)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := q.Order("domain_table_id, source_value").Find(&items).Error
	return items, err
}
