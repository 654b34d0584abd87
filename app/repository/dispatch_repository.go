package repository

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// dispatchRepository implements the DispatchRepository interface
type dispatchRepository struct {
	db *gorm.DB
}

// NewDispatchRepository creates a new dispatch repository instance
func NewDispatchRepository(db *gorm.DB) DispatchRepository {
	return &dispatchRepository{db: db}
}

// Create inserts a dispatch row
func (r *dispatchRepository) Create(dispatch *models.Dispatch) error {
	return r.db.Omit("Items").Create(dispatch).Error
}

// NextSequenceNo returns the next sequence number for a batch
func (r *dispatchRepository) NextSequenceNo(batchID uint) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&models.Dispatch{}).
		Where("batch_id = ?", batchID).
		Select("MAX(sequence_no)").
		Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

// UpdateResult records the outcome of a dispatch
func (r *dispatchRepository) UpdateResult(dispatchID string, outcome DispatchOutcome, now time.Time) error {
	res := r.db.Model(&models.Dispatch{}).Where("dispatch_id = ?", dispatchID).Updates(map[string]interface{}{
		"status":        outcome.Status,
		"http_status":   outcome.HTTPStatus,
		"last_error":    outcome.LastError,
		"next_retry_at": outcome.NextRetryAt,
		"updated_at":    now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a dispatch with its items
func (r *dispatchRepository) Get(dispatchID string) (*models.Dispatch, error) {
	var dispatch models.Dispatch
	err := r.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("item_order")
	}).Where("dispatch_id = ?", dispatchID).First(&dispatch).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &dispatch, nil
}

// ListByBatch lists the dispatches of a batch by sequence number
func (r *dispatchRepository) ListByBatch(batchID uint) ([]models.Dispatch, error) {
	var dispatches []models.Dispatch
	err := r.db.Where("batch_id = ?", batchID).Order("sequence_no").Find(&dispatches).Error
	return dispatches, err
}

// FailInFlight marks every in-flight dispatch failed with message. Their
// outcome is unknown, so the claims are left for the next lease cycle.
func (r *dispatchRepository) FailInFlight(message string, now time.Time) (int64, error) {
	res := r.db.Model(&models.Dispatch{}).
		Where("status = ?", models.DispatchStatusInFlight).
		Updates(map[string]interface{}{
			"status":     models.DispatchStatusFailed,
			"last_error": message,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// CountByStatus counts a provider's dispatches per status
func (r *dispatchRepository) CountByStatus(providerCode string) ([]models.StatusCount, error) {
	var rows []models.StatusCount
	err := r.db.Model(&models.Dispatch{}).
		Where("provider_code = ?", providerCode).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}
