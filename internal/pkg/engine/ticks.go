package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
)

// stageTick stages new batches and resumes interrupted ones
func (m *Manager) stageTick(ctx context.Context) error {
	batches, err := m.deps.Store.Read(ctx).Batch.ListByStatus(m.cfg.ProviderCode, models.BatchStatusDraft, models.BatchStatusFetching)
	if err != nil {
		return fmt.Errorf("list stageable batches: %w", err)
	}
	var errs []error
	for _, b := range batches {
		if b.Status == models.BatchStatusFetching && !b.HasResume {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.deps.Stager.StageBatch(ctx, b.ID); err != nil {
			errs = append(errs, fmt.Errorf("stage batch %d: %w", b.ID, err))
		}
	}
	return errors.Join(errs...)
}

// dispatchTick sends Ready and Sending batches and any batch with retry-due claims
func (m *Manager) dispatchTick(ctx context.Context) error {
	read := m.deps.Store.Read(ctx)
	batches, err := read.Batch.ListByStatus(m.cfg.ProviderCode, models.BatchStatusReady, models.BatchStatusSending)
	if err != nil {
		return fmt.Errorf("list dispatchable batches: %w", err)
	}
	ids, err := read.Claim.BatchIDsWithDueRetries(m.cfg.ProviderCode, m.deps.Clock.Now())
	if err != nil {
		return fmt.Errorf("list retry-due batches: %w", err)
	}
	retry, err := read.Batch.ListByIDs(ids)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range merge(batches, retry, models.BatchStatusEnqueued, models.BatchStatusCompleted) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.deps.Dispatcher.DispatchBatch(ctx, b.ID); err != nil {
			errs = append(errs, fmt.Errorf("dispatch batch %d: %w", b.ID, err))
		}
	}
	return errors.Join(errs...)
}

// attachmentTick uploads attachments of enqueued batches not yet processed,
// and of batches whose failed uploads are due again
func (m *Manager) attachmentTick(ctx context.Context) error {
	read := m.deps.Store.Read(ctx)
	batches, err := read.Batch.ListByStatus(m.cfg.ProviderCode, models.BatchStatusEnqueued, models.BatchStatusCompleted)
	if err != nil {
		return fmt.Errorf("list enqueued batches: %w", err)
	}
	pending := batches[:0]
	for _, b := range batches {
		if b.AttachmentsDoneAt == nil {
			pending = append(pending, b)
		}
	}
	ids, err := read.Attachment.BatchIDsWithDueFailures(m.cfg.ProviderCode, m.deps.Clock.Now())
	if err != nil {
		return fmt.Errorf("list batches with due uploads: %w", err)
	}
	retry, err := read.Batch.ListByIDs(ids)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range merge(pending, retry, models.BatchStatusSending, models.BatchStatusEnqueued, models.BatchStatusCompleted) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.deps.Attachments.ProcessBatch(ctx, b.ID); err != nil {
			errs = append(errs, fmt.Errorf("attachments of batch %d: %w", b.ID, err))
		}
	}
	return errors.Join(errs...)
}

// mappingTick posts discovered values and pulls the approved set
func (m *Manager) mappingTick(ctx context.Context) error {
	posted, err := m.deps.Mapping.PostMissing(ctx)
	if err != nil {
		return fmt.Errorf("post missing mappings: %w", err)
	}
	approved, missing, err := m.deps.Mapping.RefreshApproved(ctx)
	if err != nil {
		return fmt.Errorf("refresh approved mappings: %w", err)
	}
	if posted > 0 || approved > 0 || missing > 0 {
		log.Infof("[Engine] Mappings: %d posted, %d approved, %d missing", posted, approved, missing)
	}
	return nil
}

// completionTick closes enqueued batches whose claims are all completed
func (m *Manager) completionTick(ctx context.Context) error {
	batches, err := m.deps.Store.Read(ctx).Batch.ListByStatus(m.cfg.ProviderCode, models.BatchStatusEnqueued)
	if err != nil {
		return fmt.Errorf("list enqueued batches: %w", err)
	}
	for _, b := range batches {
		done, err := m.deps.Store.Read(ctx).Claim.AllCompleted(b.ID)
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		id := b.ID
		if err := m.deps.Store.InTx(ctx, func(r *repository.Repositories) error {
			return r.Batch.UpdateStatus(id, models.BatchStatusCompleted, repository.BatchStatusUpdate{}, m.deps.Clock.Now())
		}); err != nil {
			return err
		}
		log.Infof("[Engine] Batch %d completed", id)
	}
	return nil
}

// merge appends the batches of extra whose status is in allowed and that
// are not already in base
func merge(base, extra []models.Batch, allowed ...models.BatchStatus) []models.Batch {
	seen := make(map[uint]struct{}, len(base))
	for _, b := range base {
		seen[b.ID] = struct{}{}
	}
	out := base
	for _, b := range extra {
		if _, ok := seen[b.ID]; ok {
			continue
		}
		for _, s := range allowed {
			if b.Status == s {
				out = append(out, b)
				seen[b.ID] = struct{}{}
				break
			}
		}
	}
	return out
}
