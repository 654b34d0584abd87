package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// batchRepository implements the BatchRepository interface
type batchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new batch repository instance
func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

// CreateDraft creates a new batch in draft status
func (r *batchRepository) CreateDraft(batch *models.Batch) error {
	batch.Status = models.BatchStatusDraft
	return r.db.Create(batch).Error
}

// GetByID retrieves a batch by its ID
func (r *batchRepository) GetByID(id uint) (*models.Batch, error) {
	var batch models.Batch
	if err := r.db.First(&batch, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &batch, nil
}

// GetByKey retrieves a batch by provider, company and month
func (r *batchRepository) GetByKey(providerCode, companyCode, monthKey string) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.Where("provider_code = ? AND company_code = ? AND month_key = ?", providerCode, companyCode, monthKey).
		First(&batch).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &batch, nil
}

// ListByStatus lists batches of a provider in any of the given statuses,
// oldest first. Without statuses all batches are returned.
func (r *batchRepository) ListByStatus(providerCode string, statuses ...models.BatchStatus) ([]models.Batch, error) {
	var batches []models.Batch
	q := r.db.Where("provider_code = ?", providerCode)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Order("id").Find(&batches).Error
	return batches, err
}

// ListByIDs retrieves the given batches ordered by ID
func (r *batchRepository) ListByIDs(ids []uint) ([]models.Batch, error) {
	var batches []models.Batch
	if len(ids) == 0 {
		return batches, nil
	}
	err := r.db.Where("id IN ?", ids).Order("id").Find(&batches).Error
	return batches, err
}

// UpdateStatus moves a batch to status and applies the optional fields
func (r *batchRepository) UpdateStatus(id uint, status models.BatchStatus, update BatchStatusUpdate, now time.Time) error {
	values := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if update.HasResume != nil {
		values["has_resume"] = *update.HasResume
	}
	if update.LastError != nil {
		values["last_error"] = *update.LastError
	}
	res := r.db.Model(&models.Batch{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBcrID stores the remote batch reference
func (r *batchRepository) SetBcrID(id uint, bcrID string, now time.Time) error {
	return r.db.Model(&models.Batch{}).Where("id = ?", id).Updates(map[string]interface{}{
		"bcr_id":     bcrID,
		"updated_at": now,
	}).Error
}

// MarkAttachmentsDone records that the attachment pipeline finished for the batch
func (r *batchRepository) MarkAttachmentsDone(id uint, now time.Time) error {
	return r.db.Model(&models.Batch{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attachments_done_at": now,
		"updated_at":          now,
	}).Error
}

// Delete removes a batch together with its claims, payloads, dispatches,
// attachments and validation issues
func (r *batchRepository) Delete(id uint) error {
	claimKeys := r.db.Model(&models.Claim{}).Select("provider_code, claim_id").Where("batch_id = ?", id)
	dispatchIDs := r.db.Model(&models.Dispatch{}).Select("dispatch_id").Where("batch_id = ?", id)

	steps := []func() error{
		func() error {
			return r.db.Where("dispatch_id IN (?)", dispatchIDs).Delete(&models.DispatchItem{}).Error
		},
		func() error { return r.db.Where("batch_id = ?", id).Delete(&models.Dispatch{}).Error },
		func() error { return r.db.Where("batch_id = ?", id).Delete(&models.Attachment{}).Error },
		func() error {
			return r.db.Where("(provider_code, claim_id) IN (?)", claimKeys).Delete(&models.ClaimPayload{}).Error
		},
		func() error { return r.db.Where("batch_id = ?", id).Delete(&models.Claim{}).Error },
		func() error { return r.db.Where("batch_id = ?", id).Delete(&models.ValidationIssue{}).Error },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	res := r.db.Delete(&models.Batch{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus counts a provider's batches per status
func (r *batchRepository) CountByStatus(providerCode string) ([]models.StatusCount, error) {
	var rows []models.StatusCount
	err := r.db.Model(&models.Batch{}).
		Where("provider_code = ?", providerCode).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}
