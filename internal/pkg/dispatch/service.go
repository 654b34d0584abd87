// Package dispatch leases staged claims, sends them to the intake in
// packets and reconciles the per-claim results.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/mapping"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
)

const (
	// MaxPacketSize is the largest number of claims in one SendClaim call
	MaxPacketSize  = 40
	DefaultLease   = 5 * time.Minute
	DefaultBackoff = time.Minute

	msgNotInSuccessList = "Not in success list"
	msgBackendRejected  = "Failed at backend queue"

	// dispatch owns the 55..100 part of a batch's progress bar
	progressBase  = 55.0
	progressShare = 45.0
)

var (
	ErrMissingRoutingID = errors.New("batch has no remote batch reference")
	ErrNotDispatchable  = errors.New("batch is not in a dispatchable state")
)

// Config tunes the dispatch pipeline
type Config struct {
	PacketSize int
	Lease      time.Duration
	Backoff    time.Duration
}

// Dependencies are the collaborators of the dispatch service
type Dependencies struct {
	Store     *repository.Store
	Claims    intake.ClaimsClient
	Encryptor security.Encryptor
	Enricher  *mapping.Enricher
	Clock     clock.Clock
	Reporter  progress.Reporter
}

// Service runs the sender and retry loops of a batch
type Service struct {
	Dependencies
	cfg Config
}

// Result summarises one dispatch run
type Result struct {
	Packets  int
	Enqueued int
	Failed   int
	Released int
}

func (r *Result) add(o Result) {
	r.Packets += o.Packets
	r.Enqueued += o.Enqueued
	r.Failed += o.Failed
	r.Released += o.Released
}

// pass is one lease loop configuration
type pass struct {
	owner        string
	eligible     []models.EnqueueStatus
	retryDue     bool
	dispatchType models.DispatchType
}

var (
	senderPass = pass{
		owner:        models.LeaseOwnerSender,
		eligible:     []models.EnqueueStatus{models.EnqueueStatusNotSent},
		dispatchType: models.DispatchTypeNormalSend,
	}
	retryPass = pass{
		owner:        models.LeaseOwnerRetry,
		eligible:     []models.EnqueueStatus{models.EnqueueStatusFailed},
		retryDue:     true,
		dispatchType: models.DispatchTypeRetrySend,
	}
)

// NewService creates a dispatch service
func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.PacketSize <= 0 || cfg.PacketSize > MaxPacketSize {
		cfg.PacketSize = MaxPacketSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if deps.Enricher == nil {
		deps.Enricher = mapping.NewEnricher(mapping.DefaultFieldTables())
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.Nop()
	}
	return &Service{Dependencies: deps, cfg: cfg}
}

// DispatchBatch sends every NotSent claim of the batch, then every Failed
// claim whose backoff has elapsed. Send failures are recorded on the rows;
// only store and decryption setup errors are returned.
func (s *Service) DispatchBatch(ctx context.Context, batchID uint) (Result, error) {
	var res Result

	batch, err := s.Store.Read(ctx).Batch.GetByID(batchID)
	if err != nil {
		return res, fmt.Errorf("load batch %d: %w", batchID, err)
	}
	switch batch.Status {
	case models.BatchStatusReady, models.BatchStatusSending, models.BatchStatusEnqueued, models.BatchStatusCompleted:
	default:
		return res, fmt.Errorf("%w: batch %d is %s", ErrNotDispatchable, batch.ID, batch.Status)
	}
	if !batch.HasBcrID() {
		msg := ErrMissingRoutingID.Error()
		log.Errorf("[Dispatch] Batch %d failed: %s", batch.ID, msg)
		s.Reporter.Report(progress.Event{Stage: progress.StageDispatch, Message: msg, IsError: true}.WithBatch(batch.ID))
		return res, s.Store.InTx(ctx, func(r *repository.Repositories) error {
			return r.Batch.UpdateStatus(batch.ID, models.BatchStatusFailed, repository.BatchStatusUpdate{LastError: &msg}, s.Clock.Now())
		})
	}

	items, err := s.Store.Read(ctx).DomainMapping.ApprovedForProvider(batch.ProviderCode)
	if err != nil {
		return res, fmt.Errorf("load approved mappings: %w", err)
	}
	lookup := mapping.NewLookup(items)

	tracker, err := s.newTracker(ctx, batch)
	if err != nil {
		return res, err
	}

	sent, err := s.loop(ctx, batch, senderPass, lookup, tracker)
	res.add(sent)
	if err != nil {
		return res, err
	}
	retried, err := s.loop(ctx, batch, retryPass, lookup, tracker)
	res.add(retried)
	if err != nil {
		return res, err
	}

	if res.Packets > 0 {
		log.Infof("[Dispatch] Batch %d: %d packets, %d enqueued, %d failed", batch.ID, res.Packets, res.Enqueued, res.Failed)
	}
	return res, nil
}

// loop leases and sends packets until the lease comes back empty
func (s *Service) loop(ctx context.Context, batch *models.Batch, p pass, lookup *mapping.Lookup, t *tracker) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		keys, err := s.lease(ctx, batch, p)
		if err != nil {
			return res, err
		}
		if len(keys) == 0 {
			if p.owner == models.LeaseOwnerSender && res.Released == 0 {
				if err := s.markEnqueued(ctx, batch); err != nil {
					return res, err
				}
				t.report(s.Reporter, "Batch dispatch complete")
			}
			return res, nil
		}

		out, err := s.sendPacket(ctx, batch, p, keys, lookup, t)
		res.add(out)
		if err != nil {
			return res, err
		}
		if out.Packets == 0 {
			// every leased claim lacked a payload; they stay NotSent
			return res, nil
		}
	}
}

// lease takes the next packet of claims and moves a Ready batch to Sending
func (s *Service) lease(ctx context.Context, batch *models.Batch, p pass) ([]models.ClaimKey, error) {
	var keys []models.ClaimKey
	err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
		now := s.Clock.Now()
		var err error
		keys, err = r.Claim.LeaseClaims(repository.LeaseRequest{
			ProviderCode:     batch.ProviderCode,
			OwnerTag:         p.owner,
			Now:              now,
			LeaseUntil:       now.Add(s.cfg.Lease),
			Take:             s.cfg.PacketSize,
			EligibleStatuses: p.eligible,
			BatchID:          &batch.ID,
			RequireRetryDue:  p.retryDue,
		})
		if err != nil || len(keys) == 0 {
			return err
		}
		if batch.Status == models.BatchStatusReady {
			if err := r.Batch.UpdateStatus(batch.ID, models.BatchStatusSending, repository.BatchStatusUpdate{}, now); err != nil {
				return err
			}
			batch.Status = models.BatchStatusSending
		}
		return nil
	})
	return keys, err
}

func (s *Service) markEnqueued(ctx context.Context, batch *models.Batch) error {
	if batch.Status == models.BatchStatusEnqueued || batch.Status == models.BatchStatusCompleted {
		return nil
	}
	err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Batch.UpdateStatus(batch.ID, models.BatchStatusEnqueued, repository.BatchStatusUpdate{}, s.Clock.Now())
	})
	if err == nil {
		batch.Status = models.BatchStatusEnqueued
	}
	return err
}

// sendPacket builds, records, sends and reconciles one packet
func (s *Service) sendPacket(ctx context.Context, batch *models.Batch, p pass, keys []models.ClaimKey, lookup *mapping.Lookup, t *tracker) (Result, error) {
	var res Result

	packet, sendable, missing, err := s.build(ctx, batch, keys, lookup)
	if err != nil {
		return res, err
	}
	if len(missing) > 0 {
		log.Warnf("[Dispatch] Batch %d: %d leased claims have no payload, releasing", batch.ID, len(missing))
		if err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
			return r.Claim.ReleaseLease(missing, s.Clock.Now())
		}); err != nil {
			return res, err
		}
		res.Released = len(missing)
	}
	if len(sendable) == 0 {
		return res, nil
	}

	d := &models.Dispatch{
		DispatchID:    uuid.NewString(),
		ProviderCode:  batch.ProviderCode,
		BatchID:       batch.ID,
		BcrID:         *batch.BcrID,
		DispatchType:  p.dispatchType,
		Status:        models.DispatchStatusInFlight,
		AttemptCount:  1,
		CorrelationID: uuid.NewString(),
	}
	if err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
		seq, err := r.Dispatch.NextSequenceNo(batch.ID)
		if err != nil {
			return err
		}
		d.SequenceNo = seq
		d.CreatedAt = s.Clock.Now()
		d.UpdatedAt = d.CreatedAt
		if err := r.Dispatch.Create(d); err != nil {
			return err
		}
		items := make([]models.DispatchItem, 0, len(sendable))
		for i, k := range sendable {
			items = append(items, models.DispatchItem{
				DispatchID:   d.DispatchID,
				ProviderCode: k.ProviderCode,
				ClaimID:      k.ClaimID,
				ItemOrder:    i + 1,
				Result:       models.DispatchItemResultUnknown,
			})
		}
		return r.DispatchItem.InsertMany(items)
	}); err != nil {
		return res, fmt.Errorf("record dispatch: %w", err)
	}
	res.Packets = 1

	t.reportSending(s.Reporter, len(sendable))
	result, sendErr := s.Claims.SendClaim(ctx, packet, d.CorrelationID)

	enqueued, failed, err := s.reconcile(ctx, d, sendable, result, sendErr)
	if err != nil {
		return res, fmt.Errorf("reconcile dispatch %s: %w", d.DispatchID, err)
	}
	res.Enqueued, res.Failed = enqueued, failed
	t.enqueued += int64(enqueued)
	t.report(s.Reporter, fmt.Sprintf("Sent %d of %d claims", t.enqueued, t.total))
	return res, nil
}

// build loads, routes and enriches the payloads of keys. Keys without a
// payload are returned separately.
func (s *Service) build(ctx context.Context, batch *models.Batch, keys []models.ClaimKey, lookup *mapping.Lookup) (json.RawMessage, []models.ClaimKey, []models.ClaimKey, error) {
	payloads, err := s.Store.Read(ctx).Payload.GetMany(keys)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load payloads: %w", err)
	}
	byKey := make(map[models.ClaimKey]*models.ClaimPayload, len(payloads))
	for i := range payloads {
		p := &payloads[i]
		byKey[models.ClaimKey{ProviderCode: p.ProviderCode, ClaimID: p.ClaimID}] = p
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	var sendable, missing []models.ClaimKey
	for _, k := range keys {
		p, ok := byKey[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		data, err := s.Encryptor.Decrypt(p.PayloadEnc)
		if err != nil {
			log.Errorf("[Dispatch] Cannot decrypt payload of claim %d: %v", k.ClaimID, err)
			missing = append(missing, k)
			continue
		}
		b, err := claims.Decode(data)
		if err != nil {
			log.Errorf("[Dispatch] Cannot decode payload of claim %d: %v", k.ClaimID, err)
			missing = append(missing, k)
			continue
		}
		claims.SetRouting(b, batch.ProviderCode, *batch.BcrID)
		s.Enricher.Enrich(b, lookup)

		out, err := b.Marshal()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal claim %d: %w", k.ClaimID, err)
		}
		if len(sendable) > 0 {
			buf.WriteByte(',')
		}
		buf.Write(out)
		sendable = append(sendable, k)
	}
	buf.WriteByte(']')
	return buf.Bytes(), sendable, missing, nil
}

// reconcile records the outcome of a send in one transaction. Claims absent
// from the success list count as failed.
func (s *Service) reconcile(ctx context.Context, d *models.Dispatch, keys []models.ClaimKey, result *intake.SendClaimResult, sendErr error) (int, int, error) {
	now := s.Clock.Now()
	retryAt := now.Add(s.cfg.Backoff)
	if sendErr == nil && result == nil {
		sendErr = errors.New("empty send claim result")
	}

	if sendErr != nil {
		log.Warnf("[Dispatch] Dispatch %s (batch %d, seq %d) failed: %v", d.DispatchID, d.BatchID, d.SequenceNo, sendErr)
		outcome := repository.DispatchOutcome{
			Status:      models.DispatchStatusFailed,
			LastError:   sendErr.Error(),
			NextRetryAt: &retryAt,
		}
		var apiErr *intake.APIError
		if errors.As(sendErr, &apiErr) {
			outcome.HTTPStatus = &apiErr.Status
		}
		ids := claimIDs(keys)
		err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
			if err := r.Claim.MarkFailed(keys, sendErr.Error(), now, s.cfg.Backoff); err != nil {
				return err
			}
			if err := r.Claim.IncrementAttempt(keys, now); err != nil {
				return err
			}
			if err := r.DispatchItem.SetResult(d.DispatchID, ids, models.DispatchItemResultFail, sendErr.Error()); err != nil {
				return err
			}
			return r.Dispatch.UpdateResult(d.DispatchID, outcome, now)
		})
		return 0, len(keys), err
	}

	accepted := make(map[int64]struct{}, len(result.SuccessIDs))
	for _, id := range result.SuccessIDs {
		accepted[id] = struct{}{}
	}
	var ok, failed []models.ClaimKey
	for _, k := range keys {
		if _, hit := accepted[k.ClaimID]; hit {
			ok = append(ok, k)
		} else {
			failed = append(failed, k)
		}
	}

	status := models.AggregateDispatchStatus(len(ok), len(keys))
	outcome := repository.DispatchOutcome{Status: status, HTTPStatus: &result.HTTPStatus}
	if len(failed) > 0 {
		outcome.LastError = fmt.Sprintf("%d of %d claims not accepted", len(failed), len(keys))
		outcome.NextRetryAt = &retryAt
	}

	err := s.Store.InTx(ctx, func(r *repository.Repositories) error {
		if len(ok) > 0 {
			if err := r.Claim.MarkEnqueued(ok, d.BcrID, now); err != nil {
				return err
			}
			if err := r.DispatchItem.SetResult(d.DispatchID, claimIDs(ok), models.DispatchItemResultSuccess, ""); err != nil {
				return err
			}
		}
		if len(failed) > 0 {
			if err := r.Claim.MarkFailed(failed, msgBackendRejected, now, s.cfg.Backoff); err != nil {
				return err
			}
			if err := r.Claim.IncrementAttempt(failed, now); err != nil {
				return err
			}
			if err := r.DispatchItem.SetResult(d.DispatchID, claimIDs(failed), models.DispatchItemResultFail, msgNotInSuccessList); err != nil {
				return err
			}
		}
		return r.Dispatch.UpdateResult(d.DispatchID, outcome, now)
	})
	if err != nil {
		return 0, 0, err
	}
	if len(failed) > 0 {
		log.Warnf("[Dispatch] Dispatch %s: %d of %d claims not accepted", d.DispatchID, len(failed), len(keys))
	}
	return len(ok), len(failed), nil
}

func claimIDs(keys []models.ClaimKey) []int64 {
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ClaimID)
	}
	return ids
}
