package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// dispatchItemRepository implements the DispatchItemRepository interface
type dispatchItemRepository struct {
	db *gorm.DB
}

// NewDispatchItemRepository creates a new dispatch item repository instance
func NewDispatchItemRepository(db *gorm.DB) DispatchItemRepository {
	return &dispatchItemRepository{db: db}
}

// InsertMany inserts the items of one dispatch
func (r *dispatchItemRepository) InsertMany(items []models.DispatchItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.CreateInBatches(items, 100).Error
}

// SetResult records one outcome for the given claims of a dispatch
func (r *dispatchItemRepository) SetResult(dispatchID string, claimIDs []int64, result models.DispatchItemResult, errorMessage string) error {
	if len(claimIDs) == 0 {
		return nil
	}
	return r.db.Model(&models.DispatchItem{}).
		Where("dispatch_id = ? AND claim_id IN ?", dispatchID, claimIDs).
		Updates(map[string]interface{}{
			"result":        result,
			"error_message": errorMessage,
		}).Error
}

// ListByDispatch lists the items of a dispatch in packet order
func (r *dispatchItemRepository) ListByDispatch(dispatchID string) ([]models.DispatchItem, error) {
	var items []models.DispatchItem
	err := r.db.Where("dispatch_id = ?", dispatchID).Order("item_order").Find(&items).Error
	return items, err
}
