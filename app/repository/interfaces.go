package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// ErrNotFound is returned when a keyed lookup matches no row
var ErrNotFound = errors.New("record not found")

// BatchRepository defines the interface for batch operations
type BatchRepository interface {
	CreateDraft(batch *models.Batch) error
	GetByID(id uint) (*models.Batch, error)
	GetByKey(providerCode, companyCode, monthKey string) (*models.Batch, error)
	ListByStatus(providerCode string, statuses ...models.BatchStatus) ([]models.Batch, error)
	ListByIDs(ids []uint) ([]models.Batch, error)
	UpdateStatus(id uint, status models.BatchStatus, update BatchStatusUpdate, now time.Time) error
	SetBcrID(id uint, bcrID string, now time.Time) error
	MarkAttachmentsDone(id uint, now time.Time) error
	Delete(id uint) error
	CountByStatus(providerCode string) ([]models.StatusCount, error)
}

// BatchStatusUpdate carries the optional fields of a batch status change
type BatchStatusUpdate struct {
	HasResume *bool
	LastError *string
}

// ClaimRepository defines the interface for claim queue operations. Every
// keyed bulk update also clears the lease fields.
type ClaimRepository interface {
	LeaseClaims(req LeaseRequest) ([]models.ClaimKey, error)
	ReleaseLease(keys []models.ClaimKey, now time.Time) error
	MarkEnqueued(keys []models.ClaimKey, bcrID string, now time.Time) error
	MarkFailed(keys []models.ClaimKey, lastError string, now time.Time, backoff time.Duration) error
	IncrementAttempt(keys []models.ClaimKey, now time.Time) error
	SetCompletionStatus(keys []models.ClaimKey, status models.CompletionStatus, now time.Time) error
	UpsertStaged(claim StagedClaim) error
	Get(key models.ClaimKey) (*models.Claim, error)
	MaxClaimIDForBatch(batchID uint) (int64, bool, error)
	BatchIDsWithDueRetries(providerCode string, now time.Time) ([]uint, error)
	CountByEnqueueStatus(providerCode string, batchID *uint) (models.ClaimCounts, error)
	ListByBatch(batchID uint, offset, limit int) ([]models.Claim, error)
	RecoverExpiredLeases(now time.Time) (int64, error)
	AllCompleted(batchID uint) (bool, error)
}

// LeaseRequest describes one atomic lease acquisition
type LeaseRequest struct {
	ProviderCode     string
	OwnerTag         string
	Now              time.Time
	LeaseUntil       time.Time
	Take             int
	EligibleStatuses []models.EnqueueStatus
	BatchID          *uint
	RequireRetryDue  bool
}

// StagedClaim is the claim row written by staging
type StagedClaim struct {
	ProviderCode string
	ClaimID      int64
	CompanyCode  string
	MonthKey     string
	BatchID      *uint
	BcrID        *string
	Now          time.Time
}

// ClaimPayloadRepository defines the interface for canonical payload storage
type ClaimPayloadRepository interface {
	Upsert(payload *models.ClaimPayload, now time.Time) error
	Get(key models.ClaimKey) (*models.ClaimPayload, error)
	GetMany(keys []models.ClaimKey) ([]models.ClaimPayload, error)
	ListByBatch(batchID uint, afterClaimID int64, limit int) ([]models.ClaimPayload, error)
}

// DispatchRepository defines the interface for dispatch bookkeeping
type DispatchRepository interface {
	Create(dispatch *models.Dispatch) error
	NextSequenceNo(batchID uint) (int, error)
	UpdateResult(dispatchID string, outcome DispatchOutcome, now time.Time) error
	Get(dispatchID string) (*models.Dispatch, error)
	ListByBatch(batchID uint) ([]models.Dispatch, error)
	FailInFlight(message string, now time.Time) (int64, error)
	CountByStatus(providerCode string) ([]models.StatusCount, error)
}

// DispatchOutcome is the recorded result of a dispatch
type DispatchOutcome struct {
	Status      models.DispatchStatus
	HTTPStatus  *int
	LastError   string
	NextRetryAt *time.Time
}

// DispatchItemRepository defines the interface for per-claim dispatch rows
type DispatchItemRepository interface {
	InsertMany(items []models.DispatchItem) error
	SetResult(dispatchID string, claimIDs []int64, result models.DispatchItemResult, errorMessage string) error
	ListByDispatch(dispatchID string) ([]models.DispatchItem, error)
}

// AttachmentRepository defines the interface for attachment operations
type AttachmentRepository interface {
	UpsertStaged(attachment *models.Attachment, now time.Time) error
	Get(attachmentID string) (*models.Attachment, error)
	MarkUploaded(attachmentID string, onlineURLEnc []byte, sizeBytes int64, now time.Time) error
	MarkFailed(attachmentID string, lastError string, now time.Time, backoff time.Duration) error
	ListUploadedByClaim(key models.ClaimKey) ([]models.Attachment, error)
	BatchIDsWithDueFailures(providerCode string, now time.Time) ([]uint, error)
	CountByStatus(batchID uint) ([]models.StatusCount, error)
}

// DomainMappingRepository defines the interface for approved and missing mappings
type DomainMappingRepository interface {
	ApprovedForProvider(providerCode string) ([]models.ApprovedDomainMapping, error)
	UpsertApproved(items []models.ApprovedDomainMapping, now time.Time) error
	UpsertMissing(items []models.MissingDomainMapping, now time.Time) (int64, error)
	ListEligibleForPost(providerCode string, limit int) ([]models.MissingDomainMapping, error)
	SetMissingStatus(ids []uint, status models.MappingStatus, lastError string, now time.Time) error
	ListMissing(providerCode string, status *models.MappingStatus) ([]models.MissingDomainMapping, error)
}

// ValidationIssueRepository defines the interface for staging validation issues
type ValidationIssueRepository interface {
	InsertMany(issues []models.ValidationIssue) error
	ListByBatch(batchID uint) ([]models.ValidationIssue, error)
}

// Repositories struct holds all repository instances bound to one handle
type Repositories struct {
	Batch         BatchRepository
	Claim         ClaimRepository
	Payload       ClaimPayloadRepository
	Dispatch      DispatchRepository
	DispatchItem  DispatchItemRepository
	Attachment    AttachmentRepository
	DomainMapping DomainMappingRepository
	Issue         ValidationIssueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Batch:         NewBatchRepository(db),
		Claim:         NewClaimRepository(db),
		Payload:       NewClaimPayloadRepository(db),
		Dispatch:      NewDispatchRepository(db),
		DispatchItem:  NewDispatchItemRepository(db),
		Attachment:    NewAttachmentRepository(db),
		DomainMapping: NewDomainMappingRepository(db),
		Issue:         NewValidationIssueRepository(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
