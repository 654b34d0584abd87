// Package staging fetches claims from the provider, builds canonical
// bundles and persists them encrypted for dispatch.
package staging

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/mapping"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/source"
)

const (
	DefaultPageSize = 300
	DefaultTxSize   = 25

	// staging owns the first half of a batch's progress bar
	stagingShare = 50.0

	rescanPageSize = 500
)

var (
	ErrMissingRoutingID = errors.New("batch has no provider or company code")
	ErrNotStageable     = errors.New("batch is not in a stageable state")
)

// Config tunes the staging pipeline
type Config struct {
	PageSize int
	TxSize   int
}

// Dependencies are the collaborators of the staging service
type Dependencies struct {
	Store     *repository.Store
	Source    source.Provider
	Batches   intake.BatchClient
	Encryptor security.Encryptor
	Builder   *claims.Builder
	Scanner   *mapping.Scanner
	Clock     clock.Clock
	Reporter  progress.Reporter
}

// Service runs the fetch and stage pipeline for one batch at a time
type Service struct {
	Dependencies
	cfg Config
}

// Result summarises one staging run
type Result struct {
	Staged     int
	Blocked    int
	Discovered int64
	Resumed    bool
}

// NewService creates a staging service
func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TxSize <= 0 {
		cfg.TxSize = DefaultTxSize
	}
	if deps.Builder == nil {
		deps.Builder = claims.NewBuilder(claims.DefaultOptions())
	}
	if deps.Scanner == nil {
		deps.Scanner = mapping.NewScanner(mapping.DefaultScanDomains())
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.Nop()
	}
	return &Service{Dependencies: deps, cfg: cfg}
}

// StageBatch stages a Draft batch, or resumes a Fetching batch that was
// interrupted. Collaborator failures are recorded on the batch and return
// nil; only store and encryption errors are returned.
func (s *Service) StageBatch(ctx context.Context, batchID uint) (Result, error) {
	var res Result

	batch, err := s.Store.Read(ctx).Batch.GetByID(batchID)
	if err != nil {
		return res, fmt.Errorf("load batch %d: %w", batchID, err)
	}
	switch {
	case batch.Status == models.BatchStatusDraft:
	case batch.Status == models.BatchStatusFetching && batch.HasResume:
		res.Resumed = true
	default:
		return res, fmt.Errorf("%w: batch %d is %s", ErrNotStageable, batch.ID, batch.Status)
	}

	if batch.ProviderCode == "" || batch.CompanyCode == "" {
		return res, s.fail(ctx, batch, ErrMissingRoutingID.Error())
	}
	start, end, err := batch.DateRange()
	if err != nil {
		return res, s.fail(ctx, batch, fmt.Sprintf("invalid month key %q", batch.MonthKey))
	}
	rng := source.Range{ProviderCode: batch.ProviderCode, CompanyCode: batch.CompanyCode, Start: start, End: end}

	total, err := s.Source.CountClaims(ctx, rng)
	if err != nil {
		return res, s.remember(ctx, batch, fmt.Sprintf("count source claims: %v", err))
	}

	if !batch.HasBcrID() {
		s.report(batch, "Obtaining remote batch reference", 0)
		bcr, err := s.Batches.CreateBatch(ctx, intake.CreateBatchItem{
			CompanyCode:     batch.CompanyCode,
			BatchStartDate:  start,
			BatchEndDate:    end,
			TotalClaims:     total,
			ProviderDhsCode: batch.ProviderCode,
		})
		if err != nil {
			log.Warnf("[Staging] Batch %d: create remote batch failed: %v", batch.ID, err)
			return res, s.remember(ctx, batch, fmt.Sprintf("create remote batch: %v", err))
		}
		if err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
			return r.Batch.SetBcrID(batch.ID, bcr, s.Clock.Now())
		}); err != nil {
			return res, err
		}
		batch.BcrID = &bcr
	}

	var after int64
	discovered := newDiscovery()
	if res.Resumed {
		var ok bool
		after, ok, err = s.Store.Read(ctx).Claim.MaxClaimIDForBatch(batch.ID)
		if err != nil {
			return res, err
		}
		if ok {
			if err := s.rescan(ctx, batch, discovered); err != nil {
				return res, err
			}
		}
		log.Infof("[Staging] Resuming batch %d after claim %d", batch.ID, after)
	}

	resume := true
	if err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Batch.UpdateStatus(batch.ID, models.BatchStatusFetching, repository.BatchStatusUpdate{HasResume: &resume}, s.Clock.Now())
	}); err != nil {
		return res, err
	}
	s.report(batch, fmt.Sprintf("Fetching %d claims", total), 0)

	var processed int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		keys, err := s.Source.ListClaimKeys(ctx, rng, after, s.cfg.PageSize)
		if err != nil {
			return res, s.remember(ctx, batch, fmt.Sprintf("list source claims: %v", err))
		}
		if len(keys) == 0 {
			break
		}
		raws, err := s.Source.GetClaims(ctx, batch.ProviderCode, keys)
		if err != nil {
			return res, s.remember(ctx, batch, fmt.Sprintf("read source claims: %v", err))
		}

		items, err := s.buildPage(batch, raws, discovered)
		if err != nil {
			return res, err
		}
		if err := s.persist(ctx, batch, items); err != nil {
			return res, err
		}
		for _, it := range items {
			if it.payload != nil {
				res.Staged++
			} else {
				res.Blocked++
			}
		}

		after = keys[len(keys)-1]
		processed += int64(len(keys))
		s.Reporter.Report(progress.Event{
			Stage:   progress.StageStaging,
			Message: fmt.Sprintf("Staged %d of %d claims", processed, total),
		}.WithBatch(batch.ID).WithPercent(share(processed, total)).WithCounts(processed, total))

		if len(keys) < s.cfg.PageSize {
			break
		}
	}

	lookupItems, err := s.Store.Read(ctx).DomainMapping.ApprovedForProvider(batch.ProviderCode)
	if err != nil {
		return res, err
	}
	missing := mapping.Missing(batch.ProviderCode, discovered.values, mapping.NewLookup(lookupItems))

	done := false
	err = s.Store.InTx(ctx, func(r *repository.Repositories) error {
		n, err := r.DomainMapping.UpsertMissing(missing, s.Clock.Now())
		if err != nil {
			return err
		}
		res.Discovered = n
		empty := ""
		return r.Batch.UpdateStatus(batch.ID, models.BatchStatusReady,
			repository.BatchStatusUpdate{HasResume: &done, LastError: &empty}, s.Clock.Now())
	})
	if err != nil {
		return res, err
	}

	log.Infof("[Staging] Batch %d ready: %d staged, %d blocked, %d new missing mappings",
		batch.ID, res.Staged, res.Blocked, res.Discovered)
	s.report(batch, fmt.Sprintf("Batch staged: %d claims, %d blocked", res.Staged, res.Blocked), stagingShare)
	return res, nil
}

// stageItem is one built claim waiting to be persisted
type stageItem struct {
	claimID int64
	result  claims.Result
	payload []byte
	hash    string
}

// buildPage builds every claim of a page outside any transaction
func (s *Service) buildPage(batch *models.Batch, raws []source.RawClaim, d *discovery) ([]stageItem, error) {
	bcr := ""
	if batch.BcrID != nil {
		bcr = *batch.BcrID
	}

	items := make([]stageItem, 0, len(raws))
	for _, raw := range raws {
		res := s.Builder.Build(raw.Parts, batch.CompanyCode)
		item := stageItem{claimID: raw.ClaimID, result: res}
		if res.OK() {
			d.add(s.Scanner.Scan(res.Bundle))
			claims.SetStagingRouting(res.Bundle, batch.ProviderCode, bcr)
			claims.Sanitize(res.Bundle)

			data, err := res.Bundle.Marshal()
			if err != nil {
				return nil, fmt.Errorf("marshal claim %d: %w", raw.ClaimID, err)
			}
			enc, err := s.Encryptor.Encrypt(data)
			if err != nil {
				return nil, fmt.Errorf("encrypt claim %d: %w", raw.ClaimID, err)
			}
			item.payload = enc
			item.hash = claims.Hash(data)
			item.claimID = res.ClaimID
		}
		items = append(items, item)
	}
	return items, nil
}

// persist writes items in short write-only transactions
func (s *Service) persist(ctx context.Context, batch *models.Batch, items []stageItem) error {
	for start := 0; start < len(items); start += s.cfg.TxSize {
		end := start + s.cfg.TxSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
			now := s.Clock.Now()
			var issues []models.ValidationIssue
			for _, it := range chunk {
				for _, issue := range it.result.Issues {
					claimID := it.claimID
					issues = append(issues, models.ValidationIssue{
						ProviderCode: batch.ProviderCode,
						BatchID:      &batch.ID,
						ClaimID:      &claimID,
						IssueType:    issue.Type,
						FieldPath:    issue.FieldPath,
						RawValue:     issue.RawValue,
						Message:      issue.Message,
						IsBlocking:   issue.IsBlocking,
						CreatedAt:    now,
					})
				}
				if it.payload == nil {
					continue
				}
				if err := r.Claim.UpsertStaged(repository.StagedClaim{
					ProviderCode: batch.ProviderCode,
					ClaimID:      it.claimID,
					CompanyCode:  it.result.CompanyCode,
					MonthKey:     batch.MonthKey,
					BatchID:      &batch.ID,
					BcrID:        batch.BcrID,
					Now:          now,
				}); err != nil {
					return fmt.Errorf("stage claim %d: %w", it.claimID, err)
				}
				if err := r.Payload.Upsert(&models.ClaimPayload{
					ProviderCode: batch.ProviderCode,
					ClaimID:      it.claimID,
					PayloadEnc:   it.payload,
					PayloadHash:  it.hash,
				}, now); err != nil {
					return fmt.Errorf("store payload %d: %w", it.claimID, err)
				}
			}
			return r.Issue.InsertMany(issues)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// rescan replays discovery over payloads staged before an interruption
func (s *Service) rescan(ctx context.Context, batch *models.Batch, d *discovery) error {
	var after int64
	for {
		payloads, err := s.Store.Read(ctx).Payload.ListByBatch(batch.ID, after, rescanPageSize)
		if err != nil {
			return err
		}
		for _, p := range payloads {
			data, err := s.Encryptor.Decrypt(p.PayloadEnc)
			if err != nil {
				log.Warnf("[Staging] Batch %d: cannot decrypt payload of claim %d: %v", batch.ID, p.ClaimID, err)
				continue
			}
			b, err := claims.Decode(data)
			if err != nil {
				log.Warnf("[Staging] Batch %d: cannot decode payload of claim %d: %v", batch.ID, p.ClaimID, err)
				continue
			}
			d.add(s.Scanner.Scan(b))
		}
		if len(payloads) < rescanPageSize {
			return nil
		}
		after = payloads[len(payloads)-1].ClaimID
	}
}

// fail aborts the batch with a recorded error
func (s *Service) fail(ctx context.Context, batch *models.Batch, msg string) error {
	log.Errorf("[Staging] Batch %d failed: %s", batch.ID, msg)
	s.Reporter.Report(progress.Event{Stage: progress.StageStaging, Message: msg, IsError: true}.WithBatch(batch.ID))
	return s.Store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Batch.UpdateStatus(batch.ID, models.BatchStatusFailed, repository.BatchStatusUpdate{LastError: &msg}, s.Clock.Now())
	})
}

// remember records a transient error and keeps the batch status so the
// next run retries
func (s *Service) remember(ctx context.Context, batch *models.Batch, msg string) error {
	log.Warnf("[Staging] Batch %d: %s", batch.ID, msg)
	s.Reporter.Report(progress.Event{Stage: progress.StageStaging, Message: msg, IsError: true}.WithBatch(batch.ID))
	return s.Store.InTx(ctx, func(r *repository.Repositories) error {
		current, err := r.Batch.GetByID(batch.ID)
		if err != nil {
			return err
		}
		return r.Batch.UpdateStatus(batch.ID, current.Status, repository.BatchStatusUpdate{LastError: &msg}, s.Clock.Now())
	})
}

func (s *Service) report(batch *models.Batch, msg string, percent float64) {
	s.Reporter.Report(progress.Event{Stage: progress.StageStaging, Message: msg}.WithBatch(batch.ID).WithPercent(percent))
}

func share(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return stagingShare * float64(processed) / float64(total)
}

// discovery accumulates scanned values across pages without duplicates
type discovery struct {
	seen   map[string]struct{}
	values []mapping.ScannedValue
}

func newDiscovery() *discovery {
	return &discovery{seen: make(map[string]struct{})}
}

func (d *discovery) add(values []mapping.ScannedValue) {
	for _, v := range values {
		k := fmt.Sprintf("%d\x00%s", v.DomainTableID, mapping.NormalizeValue(v.Value))
		if _, ok := d.seen[k]; ok {
			continue
		}
		d.seen[k] = struct{}{}
		d.values = append(d.values, v)
	}
}
