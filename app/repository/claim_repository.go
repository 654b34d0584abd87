package repository

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

// keyChunkSize bounds the number of keys bound into one statement
const keyChunkSize = 200

// claimRepository implements the ClaimRepository interface
type claimRepository struct {
	db *gorm.DB
}

// NewClaimRepository creates a new claim repository instance
func NewClaimRepository(db *gorm.DB) ClaimRepository {
	return &claimRepository{db: db}
}

// LeaseClaims selects up to Take eligible claims and marks them owned in a
// single UPDATE ... RETURNING statement, so two callers can never receive
// overlapping sets. Keys are returned in ascending claim id order.
func (r *claimRepository) LeaseClaims(req LeaseRequest) ([]models.ClaimKey, error) {
	if req.Take <= 0 || len(req.EligibleStatuses) == 0 {
		return nil, nil
	}

	var where strings.Builder
	where.WriteString("provider_code = ? AND enqueue_status IN ? AND (in_flight_until IS NULL OR in_flight_until <= ?)")
	args := []interface{}{req.ProviderCode, req.EligibleStatuses, req.Now}
	if req.BatchID != nil {
		where.WriteString(" AND batch_id = ?")
		args = append(args, *req.BatchID)
	}
	if req.RequireRetryDue {
		where.WriteString(" AND (next_retry_at IS NULL OR next_retry_at <= ?)")
		args = append(args, req.Now)
	}
	args = append(args, req.Take)

	query := `UPDATE claims
SET locked_by = ?, in_flight_until = ?, enqueue_status = ?, updated_at = ?
WHERE rowid IN (
	SELECT rowid FROM claims
	WHERE ` + where.String() + `
	ORDER BY claim_id
	LIMIT ?
)
RETURNING provider_code, claim_id`

	all := append([]interface{}{req.OwnerTag, req.LeaseUntil, models.EnqueueStatusInFlight, req.Now}, args...)

	var keys []models.ClaimKey
	if err := r.db.Raw(query, all...).Scan(&keys).Error; err != nil {
		return nil, fmt.Errorf("lease claims: %w", err)
	}

	// RETURNING order is unspecified in SQLite
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ClaimID != keys[j].ClaimID {
			return keys[i].ClaimID < keys[j].ClaimID
		}
		return keys[i].ProviderCode < keys[j].ProviderCode
	})
	return keys, nil
}

// restoreStatus maps an in-flight claim back to the status it was leased
// from, judged by the owner tag. It must be evaluated before locked_by is cleared.
const restoreStatus = `CASE
		WHEN locked_by = ? THEN ?
		WHEN locked_by = ? THEN ?
		WHEN locked_by = ? THEN ?
		WHEN attempt_count > 0 THEN ?
		ELSE ?
	END`

func restoreStatusArgs() []interface{} {
	return []interface{}{
		models.LeaseOwnerSender, models.EnqueueStatusNotSent,
		models.LeaseOwnerRetry, models.EnqueueStatusFailed,
		models.LeaseOwnerRequeue, models.EnqueueStatusEnqueued,
		models.EnqueueStatusFailed,
		models.EnqueueStatusNotSent,
	}
}

// ReleaseLease clears ownership and returns an in-flight claim to the status
// it held before the lease, so the next pass can take it again
func (r *claimRepository) ReleaseLease(keys []models.ClaimKey, now time.Time) error {
	args := append([]interface{}{models.EnqueueStatusInFlight}, restoreStatusArgs()...)
	args = append(args, now)
	return r.updateByKeys(keys,
		"enqueue_status = CASE WHEN enqueue_status = ? THEN "+restoreStatus+" ELSE enqueue_status END, updated_at = ?",
		args...)
}

// MarkEnqueued records acceptance by the remote intake
func (r *claimRepository) MarkEnqueued(keys []models.ClaimKey, bcrID string, now time.Time) error {
	return r.updateByKeys(keys,
		"enqueue_status = ?, bcr_id = COALESCE(NULLIF(?, ''), bcr_id), last_enqueued_at = ?, next_retry_at = NULL, last_error = '', updated_at = ?",
		models.EnqueueStatusEnqueued, bcrID, now, now)
}

// MarkFailed records a failure and schedules the next attempt after backoff
func (r *claimRepository) MarkFailed(keys []models.ClaimKey, lastError string, now time.Time, backoff time.Duration) error {
	return r.updateByKeys(keys,
		"enqueue_status = ?, last_error = ?, next_retry_at = ?, updated_at = ?",
		models.EnqueueStatusFailed, lastError, now.Add(backoff), now)
}

// IncrementAttempt bumps the attempt counter
func (r *claimRepository) IncrementAttempt(keys []models.ClaimKey, now time.Time) error {
	return r.updateByKeys(keys, "attempt_count = attempt_count + 1, updated_at = ?", now)
}

// SetCompletionStatus records the downstream adjudication state
func (r *claimRepository) SetCompletionStatus(keys []models.ClaimKey, status models.CompletionStatus, now time.Time) error {
	return r.updateByKeys(keys,
		"completion_status = ?, last_resume_checked_at = ?, updated_at = ?",
		status, now, now)
}

// updateByKeys applies set to every row in keys. The keys are bound as a
// VALUES list and joined against the table; the lease fields are always cleared.
func (r *claimRepository) updateByKeys(keys []models.ClaimKey, set string, setArgs ...interface{}) error {
	keys = dedupeKeys(keys)
	for start := 0; start < len(keys); start += keyChunkSize {
		end := start + keyChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		args := make([]interface{}, 0, len(chunk)*2+len(setArgs))
		for _, k := range chunk {
			args = append(args, k.ProviderCode, k.ClaimID)
		}
		args = append(args, setArgs...)

		query := "WITH k(provider_code, claim_id) AS (VALUES " + valuesPlaceholders(len(chunk)) + ") " +
			"UPDATE claims SET " + set + ", locked_by = NULL, in_flight_until = NULL " +
			"WHERE EXISTS (SELECT 1 FROM k WHERE k.provider_code = claims.provider_code AND k.claim_id = claims.claim_id)"
		if err := r.db.Exec(query, args...).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpsertStaged creates or refreshes a claim from staging. Claims already
// accepted or currently leased keep their enqueue status, completed claims
// keep their completion status, and an existing batch association wins.
func (r *claimRepository) UpsertStaged(in StagedClaim) error {
	claim := models.Claim{
		ProviderCode:     in.ProviderCode,
		ClaimID:          in.ClaimID,
		CompanyCode:      in.CompanyCode,
		MonthKey:         in.MonthKey,
		BatchID:          in.BatchID,
		BcrID:            in.BcrID,
		EnqueueStatus:    models.EnqueueStatusNotSent,
		CompletionStatus: models.CompletionStatusUnknown,
		CreatedAt:        in.Now,
		UpdatedAt:        in.Now,
	}

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_code"}, {Name: "claim_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"company_code": gorm.Expr("excluded.company_code"),
			"month_key":    gorm.Expr("COALESCE(NULLIF(claims.month_key, ''), excluded.month_key)"),
			"batch_id":     gorm.Expr("COALESCE(claims.batch_id, excluded.batch_id)"),
			"bcr_id":       gorm.Expr("COALESCE(claims.bcr_id, excluded.bcr_id)"),
			"enqueue_status": gorm.Expr("CASE WHEN claims.enqueue_status IN (?, ?) THEN claims.enqueue_status ELSE ? END",
				models.EnqueueStatusEnqueued, models.EnqueueStatusInFlight, models.EnqueueStatusNotSent),
			"completion_status": gorm.Expr("CASE WHEN claims.completion_status = ? THEN claims.completion_status ELSE ? END",
				models.CompletionStatusCompleted, models.CompletionStatusUnknown),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&claim).Error
}

// Get retrieves a claim by key
func (r *claimRepository) Get(key models.ClaimKey) (*models.Claim, error) {
	var claim models.Claim
	err := r.db.Where("provider_code = ? AND claim_id = ?", key.ProviderCode, key.ClaimID).First(&claim).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &claim, nil
}

// MaxClaimIDForBatch returns the highest staged claim id of a batch
func (r *claimRepository) MaxClaimIDForBatch(batchID uint) (int64, bool, error) {
	var max sql.NullInt64
	err := r.db.Model(&models.Claim{}).
		Where("batch_id = ?", batchID).
		Select("MAX(claim_id)").
		Row().Scan(&max)
	if err != nil {
		return 0, false, err
	}
	return max.Int64, max.Valid, nil
}

// BatchIDsWithDueRetries lists batches owning failed claims whose backoff has elapsed
func (r *claimRepository) BatchIDsWithDueRetries(providerCode string, now time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.Claim{}).
		Where("provider_code = ? AND enqueue_status = ? AND batch_id IS NOT NULL", providerCode, models.EnqueueStatusFailed).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Distinct().
		Order("batch_id").
		Pluck("batch_id", &ids).Error
	return ids, err
}

// CountByEnqueueStatus summarises claims of a provider, optionally for one batch
func (r *claimRepository) CountByEnqueueStatus(providerCode string, batchID *uint) (models.ClaimCounts, error) {
	var counts models.ClaimCounts

	scope := func() *gorm.DB {
		q := r.db.Model(&models.Claim{}).Where("provider_code = ?", providerCode)
		if batchID != nil {
			q = q.Where("batch_id = ?", *batchID)
		}
		return q
	}

	var rows []models.StatusCount
	if err := scope().Select("enqueue_status AS status, COUNT(*) AS count").Group("enqueue_status").Scan(&rows).Error; err != nil {
		return counts, err
	}
	for _, row := range rows {
		counts.Add(models.EnqueueStatus(row.Status), row.Count)
	}

	if err := scope().Where("completion_status = ?", models.CompletionStatusCompleted).Count(&counts.Completed).Error; err != nil {
		return counts, err
	}
	return counts, nil
}

// ListByBatch lists claims of a batch ordered by claim id
func (r *claimRepository) ListByBatch(batchID uint, offset, limit int) ([]models.Claim, error) {
	var claims []models.Claim
	q := r.db.Where("batch_id = ?", batchID).Order("claim_id").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&claims).Error
	return claims, err
}

// RecoverExpiredLeases restores in-flight claims whose lease has expired or
// vanished, based on the owner tag that held it. Live leases are untouched.
func (r *claimRepository) RecoverExpiredLeases(now time.Time) (int64, error) {
	args := append(restoreStatusArgs(), now, models.EnqueueStatusInFlight, now)
	res := r.db.Exec(`UPDATE claims
SET enqueue_status = `+restoreStatus+`,
	locked_by = NULL,
	in_flight_until = NULL,
	updated_at = ?
WHERE enqueue_status = ? AND (in_flight_until IS NULL OR in_flight_until <= ?)`, args...)
	return res.RowsAffected, res.Error
}

// AllCompleted reports whether a batch has claims and every one is completed
func (r *claimRepository) AllCompleted(batchID uint) (bool, error) {
	var total, completed int64
	if err := r.db.Model(&models.Claim{}).Where("batch_id = ?", batchID).Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	err := r.db.Model(&models.Claim{}).
		Where("batch_id = ? AND completion_status = ?", batchID, models.CompletionStatusCompleted).
		Count(&completed).Error
	return completed == total, err
}

func valuesPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("(?, ?),", n), ",")
}

func dedupeKeys(keys []models.ClaimKey) []models.ClaimKey {
	seen := make(map[models.ClaimKey]struct{}, len(keys))
	out := make([]models.ClaimKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
