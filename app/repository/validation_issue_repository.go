package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// validationIssueRepository implements the ValidationIssueRepository interface
type validationIssueRepository struct {
	db *gorm.DB
}

// NewValidationIssueRepository creates a new validation issue repository instance
func NewValidationIssueRepository(db *gorm.DB) ValidationIssueRepository {
	return &validationIssueRepository{db: db}
}

// InsertMany stores validation issues
func (r *validationIssueRepository) InsertMany(issues []models.ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	return r.db.CreateInBatches(issues, 100).Error
}

// ListByBatch lists the issues recorded for a batch
func (r *validationIssueRepository) ListByBatch(batchID uint) ([]models.ValidationIssue, error) {
	var issues []models.ValidationIssue
	err := r.db.Where("batch_id = ?", batchID).Order("id").Find(&issues).Error
	return issues, err
}
