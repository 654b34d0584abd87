package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// claimPayloadRepository implements the ClaimPayloadRepository interface
type claimPayloadRepository struct {
	db *gorm.DB
}

// NewClaimPayloadRepository creates a new payload repository instance
func NewClaimPayloadRepository(db *gorm.DB) ClaimPayloadRepository {
	return &claimPayloadRepository{db: db}
}

// Upsert stores the payload; the version is bumped only when the hash changes
func (r *claimPayloadRepository) Upsert(payload *models.ClaimPayload, now time.Time) error {
	if payload.PayloadVersion == 0 {
		payload.PayloadVersion = 1
	}
	payload.CreatedAt = now
	payload.UpdatedAt = now

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_code"}, {Name: "claim_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"payload_enc":     gorm.Expr("excluded.payload_enc"),
			"payload_hash":    gorm.Expr("excluded.payload_hash"),
			"payload_version": gorm.Expr("CASE WHEN claim_payloads.payload_hash = excluded.payload_hash THEN claim_payloads.payload_version ELSE claim_payloads.payload_version + 1 END"),
			"updated_at":      gorm.Expr("excluded.updated_at"),
		}),
	}).Create(payload).Error
}

// Get retrieves the payload of one claim
func (r *claimPayloadRepository) Get(key models.ClaimKey) (*models.ClaimPayload, error) {
	var payload models.ClaimPayload
	err := r.db.Where("provider_code = ? AND claim_id = ?", key.ProviderCode, key.ClaimID).First(&payload).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &payload, nil
}

// GetMany retrieves the payloads that exist for keys, ordered by claim id
func (r *claimPayloadRepository) GetMany(keys []models.ClaimKey) ([]models.ClaimPayload, error) {
	var payloads []models.ClaimPayload
	keys = dedupeKeys(keys)
	for start := 0; start < len(keys); start += keyChunkSize {
		end := start + keyChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		pairs := make([][]interface{}, 0, end-start)
		for _, k := range keys[start:end] {
			pairs = append(pairs, []interface{}{k.ProviderCode, k.ClaimID})
		}
		var chunk []models.ClaimPayload
		if err := r.db.Where("(provider_code, claim_id) IN ?", pairs).Order("claim_id").Find(&chunk).Error; err != nil {
			return nil, err
		}
		payloads = append(payloads, chunk...)
	}
	return payloads, nil
}

// ListByBatch pages through the payloads of a batch's claims by claim id
func (r *claimPayloadRepository) ListByBatch(batchID uint, afterClaimID int64, limit int) ([]models.ClaimPayload, error) {
	var payloads []models.ClaimPayload
	err := r.db.Table("claim_payloads AS p").
		Select("p.*").
		Joins("JOIN claims c ON c.provider_code = p.provider_code AND c.claim_id = p.claim_id").
		Where("c.batch_id = ? AND p.claim_id > ?", batchID, afterClaimID).
		Order("p.claim_id").
		Limit(limit).
		Scan(&payloads).Error
	return payloads, err
}
