package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// attachmentRepository implements the AttachmentRepository interface
type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository creates a new attachment repository instance
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

// UpsertStaged stores the attachment as staged. An attachment that was
// already uploaded keeps its status and remote URL.
func (r *attachmentRepository) UpsertStaged(attachment *models.Attachment, now time.Time) error {
	attachment.UploadStatus = models.UploadStatusStaged
	attachment.CreatedAt = now
	attachment.UpdatedAt = now

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attachment_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"batch_id":           gorm.Expr("COALESCE(excluded.batch_id, attachments.batch_id)"),
			"source_type":        gorm.Expr("excluded.source_type"),
			"location_path_enc":  gorm.Expr("excluded.location_path_enc"),
			"location_bytes_enc": gorm.Expr("excluded.location_bytes_enc"),
			"attach_bit_enc":     gorm.Expr("excluded.attach_bit_enc"),
			"file_name":          gorm.Expr("excluded.file_name"),
			"content_type":       gorm.Expr("excluded.content_type"),
			"size_bytes":         gorm.Expr("COALESCE(attachments.size_bytes, excluded.size_bytes)"),
			"sha256":             gorm.Expr("excluded.sha256"),
			"remarks":            gorm.Expr("excluded.remarks"),
			"upload_status": gorm.Expr("CASE WHEN attachments.upload_status = ? THEN attachments.upload_status ELSE ? END",
				models.UploadStatusUploaded, models.UploadStatusStaged),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(attachment).Error
}

// Get retrieves an attachment by its composite id
func (r *attachmentRepository) Get(attachmentID string) (*models.Attachment, error) {
	var attachment models.Attachment
	if err := r.db.Where("attachment_id = ?", attachmentID).First(&attachment).Error; err != nil {
		return nil, notFound(err)
	}
	return &attachment, nil
}

// MarkUploaded records a successful upload with its encrypted remote URL
func (r *attachmentRepository) MarkUploaded(attachmentID string, onlineURLEnc []byte, sizeBytes int64, now time.Time) error {
	return r.db.Model(&models.Attachment{}).Where("attachment_id = ?", attachmentID).Updates(map[string]interface{}{
		"upload_status":  models.UploadStatusUploaded,
		"online_url_enc": onlineURLEnc,
		"size_bytes":     sizeBytes,
		"next_retry_at":  nil,
		"last_error":     "",
		"updated_at":     now,
	}).Error
}

// MarkFailed records an upload failure and schedules a retry after backoff
func (r *attachmentRepository) MarkFailed(attachmentID string, lastError string, now time.Time, backoff time.Duration) error {
	return r.db.Model(&models.Attachment{}).Where("attachment_id = ?", attachmentID).Updates(map[string]interface{}{
		"upload_status": models.UploadStatusFailed,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"next_retry_at": now.Add(backoff),
		"last_error":    lastError,
		"updated_at":    now,
	}).Error
}

// ListUploadedByClaim lists the uploaded attachments of a claim
func (r *attachmentRepository) ListUploadedByClaim(key models.ClaimKey) ([]models.Attachment, error) {
	var attachments []models.Attachment
	err := r.db.Where("provider_code = ? AND claim_id = ? AND upload_status = ?",
		key.ProviderCode, key.ClaimID, models.UploadStatusUploaded).
		Order("attachment_id").
		Find(&attachments).Error
	return attachments, err
}

// BatchIDsWithDueFailures lists batches with failed uploads whose backoff has elapsed
func (r *attachmentRepository) BatchIDsWithDueFailures(providerCode string, now time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.Attachment{}).
		Where("provider_code = ? AND upload_status = ? AND batch_id IS NOT NULL", providerCode, models.UploadStatusFailed).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Distinct().
		Order("batch_id").
		Pluck("batch_id", &ids).Error
	return ids, err
}

// CountByStatus counts a batch's attachments per upload status
func (r *attachmentRepository) CountByStatus(batchID uint) ([]models.StatusCount, error) {
	var rows []models.StatusCount
	err := r.db.Model(&models.Attachment{}).
		Where("batch_id = ?", batchID).
		Select("upload_status AS status, COUNT(*) AS count").
		Group("upload_status").
		Order("upload_status").
		Scan(&rows).Error
	return rows, err
}
