package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/mapping"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/testutil"
)

const provider = "PRV1"

var t0 = time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)

type sentPacket struct {
	ids           []int64
	headers       []map[string]interface{}
	correlationID string
}

type fakeIntake struct {
	mu      sync.Mutex
	packets []sentPacket
	respond func(call int, ids []int64) (*intake.SendClaimResult, error)
}

func (f *fakeIntake) SendClaim(_ context.Context, packet json.RawMessage, correlationID string) (*intake.SendClaimResult, error) {
	dec := json.NewDecoder(bytes.NewReader(packet))
	dec.UseNumber()
	var bundles []map[string]interface{}
	if err := dec.Decode(&bundles); err != nil {
		return nil, err
	}
	sp := sentPacket{correlationID: correlationID}
	for _, b := range bundles {
		h := b[claims.SectionHeader].(map[string]interface{})
		id, _ := h["proIdClaim"].(json.Number).Int64()
		sp.ids = append(sp.ids, id)
		sp.headers = append(sp.headers, h)
	}

	f.mu.Lock()
	f.packets = append(f.packets, sp)
	call := len(f.packets)
	f.mu.Unlock()

	if f.respond == nil {
		return &intake.SendClaimResult{HTTPStatus: 200, SuccessIDs: sp.ids}, nil
	}
	return f.respond(call, sp.ids)
}

type harness struct {
	store   *repository.Store
	enc     security.Encryptor
	clock   *clock.Manual
	intake  *fakeIntake
	svc     *Service
	batchID uint
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewStore(testutil.OpenDB(t))
	enc, err := security.NewColumnEncryptor(make([]byte, 32))
	require.NoError(t, err)

	h := &harness{store: store, enc: enc, clock: clock.NewManual(t0), intake: &fakeIntake{}}
	h.svc = NewService(Dependencies{
		Store:     store,
		Claims:    h.intake,
		Encryptor: enc,
		Clock:     h.clock,
	}, Config{})

	batch := &models.Batch{ProviderCode: provider, CompanyCode: "C1", MonthKey: "202603"}
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(r *repository.Repositories) error {
		if err := r.Batch.CreateDraft(batch); err != nil {
			return err
		}
		if err := r.Batch.SetBcrID(batch.ID, "9001", t0); err != nil {
			return err
		}
		return r.Batch.UpdateStatus(batch.ID, models.BatchStatusReady, repository.BatchStatusUpdate{}, t0)
	}))
	h.batchID = batch.ID
	return h
}

// stage stores claims with an encrypted canonical payload
func (h *harness) stage(t *testing.T, withPayload bool, ids ...int64) {
	t.Helper()
	builder := claims.NewBuilder(claims.DefaultOptions())
	require.NoError(t, h.store.InTx(context.Background(), func(r *repository.Repositories) error {
		for _, id := range ids {
			if err := r.Claim.UpsertStaged(repository.StagedClaim{
				ProviderCode: provider,
				ClaimID:      id,
				CompanyCode:  "C1",
				MonthKey:     "202603",
				BatchID:      &h.batchID,
				Now:          t0,
			}); err != nil {
				return err
			}
			if !withPayload {
				continue
			}
			res := builder.Build(claims.Parts{Header: map[string]interface{}{
				"proIdClaim":  id,
				"invoiceDate": "2026-03-05",
				"claimType":   "OP",
			}}, "C1")
			require.True(t, res.OK())
			claims.SetStagingRouting(res.Bundle, provider, "")
			data, err := res.Bundle.Marshal()
			require.NoError(t, err)
			enc, err := h.enc.Encrypt(data)
			require.NoError(t, err)
			if err := r.Payload.Upsert(&models.ClaimPayload{
				ProviderCode: provider,
				ClaimID:      id,
				PayloadEnc:   enc,
				PayloadHash:  claims.Hash(data),
			}, t0); err != nil {
				return err
			}
		}
		return nil
	}))
}

func rangeIDs(from, to int64) []int64 {
	var ids []int64
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func (h *harness) claim(t *testing.T, id int64) *models.Claim {
	t.Helper()
	c, err := h.store.Read(context.Background()).Claim.Get(models.ClaimKey{ProviderCode: provider, ClaimID: id})
	require.NoError(t, err)
	return c
}

func (h *harness) counts(t *testing.T) models.ClaimCounts {
	t.Helper()
	c, err := h.store.Read(context.Background()).Claim.CountByEnqueueStatus(provider, &h.batchID)
	require.NoError(t, err)
	return c
}

func TestDispatchTwoPacketsWithTransportFailureThenRetry(t *testing.T) {
	h := newHarness(t)
	h.stage(t, true, rangeIDs(1, 45)...)
	h.intake.respond = func(call int, ids []int64) (*intake.SendClaimResult, error) {
		if call == 2 {
			return nil, errors.New("connection reset by peer")
		}
		return &intake.SendClaimResult{HTTPStatus: 200, SuccessIDs: ids}, nil
	}
	ctx := context.Background()

	res, err := h.svc.DispatchBatch(ctx, h.batchID)
	require.NoError(t, err)
	assert.Equal(t, Result{Packets: 2, Enqueued: 40, Failed: 5}, res)

	require.Len(t, h.intake.packets, 2)
	assert.Len(t, h.intake.packets[0].ids, 40)
	assert.Equal(t, rangeIDs(41, 45), h.intake.packets[1].ids)

	counts := h.counts(t)
	assert.Equal(t, int64(40), counts.Enqueued)
	assert.Equal(t, int64(5), counts.Failed)
	assert.Zero(t, counts.InFlight)

	failed := h.claim(t, 43)
	assert.Equal(t, models.EnqueueStatusFailed, failed.EnqueueStatus)
	assert.Equal(t, 1, failed.AttemptCount)
	assert.Equal(t, "connection reset by peer", failed.LastError)
	require.NotNil(t, failed.NextRetryAt)
	assert.True(t, failed.NextRetryAt.Equal(t0.Add(DefaultBackoff)))
	assert.Nil(t, failed.LockedBy)
	assert.Nil(t, failed.InFlightUntil)

	ok := h.claim(t, 7)
	assert.Equal(t, models.EnqueueStatusEnqueued, ok.EnqueueStatus)
	require.NotNil(t, ok.BcrID)
	assert.Equal(t, "9001", *ok.BcrID)

	batch, err := h.store.Read(ctx).Batch.GetByID(h.batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusEnqueued, batch.Status)

	dispatches, err := h.store.Read(ctx).Dispatch.ListByBatch(h.batchID)
	require.NoError(t, err)
	require.Len(t, dispatches, 2)
	assert.Equal(t, models.DispatchStatusSucceeded, dispatches[0].Status)
	assert.Equal(t, 1, dispatches[0].SequenceNo)
	assert.Equal(t, models.DispatchStatusFailed, dispatches[1].Status)
	assert.Equal(t, 2, dispatches[1].SequenceNo)
	assert.Nil(t, dispatches[1].HTTPStatus)
	require.NotNil(t, dispatches[1].NextRetryAt)

	// nothing is due yet
	res, err = h.svc.DispatchBatch(ctx, h.batchID)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	h.clock.Advance(DefaultBackoff + time.Second)
	res, err = h.svc.DispatchBatch(ctx, h.batchID)
	require.NoError(t, err)
	assert.Equal(t, Result{Packets: 1, Enqueued: 5}, res)
	assert.Equal(t, int64(45), h.counts(t).Enqueued)

	dispatches, err = h.store.Read(ctx).Dispatch.ListByBatch(h.batchID)
	require.NoError(t, err)
	require.Len(t, dispatches, 3)
	assert.Equal(t, models.DispatchTypeRetrySend, dispatches[2].DispatchType)
	assert.Equal(t, models.DispatchStatusSucceeded, dispatches[2].Status)
}

func TestReconcileBySuccessList(t *testing.T) {
	tests := []struct {
		name     string
		success  []int64
		fail     []int64
		status   models.DispatchStatus
		enqueued int
	}{
		{"all accepted", rangeIDs(1, 10), nil, models.DispatchStatusSucceeded, 10},
		{"none accepted", nil, rangeIDs(1, 10), models.DispatchStatusFailed, 0},
		{"partial, unmentioned ids fail", rangeIDs(1, 7), []int64{8}, models.DispatchStatusPartiallySucceeded, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.stage(t, true, rangeIDs(1, 10)...)
			h.intake.respond = func(int, []int64) (*intake.SendClaimResult, error) {
				return &intake.SendClaimResult{HTTPStatus: 200, SuccessIDs: tt.success, FailIDs: tt.fail}, nil
			}
			ctx := context.Background()

			res, err := h.svc.DispatchBatch(ctx, h.batchID)
			require.NoError(t, err)
			assert.Equal(t, tt.enqueued, res.Enqueued)
			assert.Equal(t, 10-tt.enqueued, res.Failed)

			counts := h.counts(t)
			assert.Equal(t, int64(tt.enqueued), counts.Enqueued)
			assert.Equal(t, int64(10-tt.enqueued), counts.Failed)

			dispatches, err := h.store.Read(ctx).Dispatch.ListByBatch(h.batchID)
			require.NoError(t, err)
			require.Len(t, dispatches, 1)
			assert.Equal(t, tt.status, dispatches[0].Status)
			require.NotNil(t, dispatches[0].HTTPStatus)
			assert.Equal(t, 200, *dispatches[0].HTTPStatus)

			items, err := h.store.Read(ctx).DispatchItem.ListByDispatch(dispatches[0].DispatchID)
			require.NoError(t, err)
			require.Len(t, items, 10)
			for _, item := range items {
				if int(item.ClaimID) <= tt.enqueued {
					assert.Equal(t, models.DispatchItemResultSuccess, item.Result)
				} else {
					assert.Equal(t, models.DispatchItemResultFail, item.Result)
					assert.Equal(t, msgNotInSuccessList, item.ErrorMessage)
				}
			}
			if tt.enqueued < 10 {
				assert.Equal(t, msgBackendRejected, h.claim(t, 10).LastError)
			}
		})
	}
}

func TestRoutingAndEnrichmentAtSendTime(t *testing.T) {
	h := newHarness(t)
	h.stage(t, true, 1)
	require.NoError(t, h.store.InTx(context.Background(), func(r *repository.Repositories) error {
		return r.DomainMapping.UpsertApproved([]models.ApprovedDomainMapping{{
			ProviderCode:  provider,
			DomainTableID: mapping.DomainClaimType,
			SourceValue:   "op",
			TargetValue:   "3",
			DisplayValue:  "Outpatient",
		}}, t0)
	}))

	_, err := h.svc.DispatchBatch(context.Background(), h.batchID)
	require.NoError(t, err)

	require.Len(t, h.intake.packets, 1)
	header := h.intake.packets[0].headers[0]
	assert.NotEmpty(t, h.intake.packets[0].correlationID)
	assert.Equal(t, provider, header["providerCode"])
	assert.NotContains(t, header, "provider_dhsCode")
	assert.Equal(t, json.Number("9001"), header["bCR_Id"])
	assert.Equal(t, "OP", header["claimType"])

	mapped, ok := header["fK_ClaimType_ID"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "3", mapped["id"])
	assert.Equal(t, "Outpatient", mapped["name"])
}

func TestClaimsWithoutPayloadAreReleased(t *testing.T) {
	h := newHarness(t)
	h.stage(t, false, 1)
	h.stage(t, true, 2)

	res, err := h.svc.DispatchBatch(context.Background(), h.batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.Positive(t, res.Released)

	orphan := h.claim(t, 1)
	assert.Equal(t, models.EnqueueStatusNotSent, orphan.EnqueueStatus)
	assert.Nil(t, orphan.LockedBy)

	require.Len(t, h.intake.packets, 1)
	assert.Equal(t, []int64{2}, h.intake.packets[0].ids)

	batch, err := h.store.Read(context.Background()).Batch.GetByID(h.batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSending, batch.Status, "batch is not complete while a claim lacks its payload")

	h.clock.Advance(time.Minute)
	res, err = h.svc.DispatchBatch(context.Background(), h.batchID)
	require.NoError(t, err)
	assert.Positive(t, res.Released, "the orphan is leased again on the next run")
	assert.Zero(t, res.Enqueued)
	require.Len(t, h.intake.packets, 1)

	orphan = h.claim(t, 1)
	assert.Equal(t, models.EnqueueStatusNotSent, orphan.EnqueueStatus)

	batch, err = h.store.Read(context.Background()).Batch.GetByID(h.batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSending, batch.Status)
}

func TestMissingRemoteBatchReferenceFailsBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Batch.SetBcrID(h.batchID, "", t0)
	}))
	h.stage(t, true, 1)

	_, err := h.svc.DispatchBatch(ctx, h.batchID)
	require.NoError(t, err)

	batch, err := h.store.Read(ctx).Batch.GetByID(h.batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, batch.Status)
	assert.Equal(t, ErrMissingRoutingID.Error(), batch.LastError)
	assert.Empty(t, h.intake.packets)
}

func TestDraftBatchIsNotDispatched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.InTx(ctx, func(r *repository.Repositories) error {
		return r.Batch.UpdateStatus(h.batchID, models.BatchStatusDraft, repository.BatchStatusUpdate{}, t0)
	}))

	_, err := h.svc.DispatchBatch(ctx, h.batchID)
	assert.ErrorIs(t, err, ErrNotDispatchable)
}

func TestConcurrentDispatchersNeverShareClaims(t *testing.T) {
	h := newHarness(t)
	h.stage(t, true, rangeIDs(1, 120)...)
	other := NewService(h.svc.Dependencies, Config{PacketSize: 25})

	var wg sync.WaitGroup
	for _, svc := range []*Service{h.svc, other} {
		wg.Add(1)
		go func(s *Service) {
			defer wg.Done()
			_, err := s.DispatchBatch(context.Background(), h.batchID)
			assert.NoError(t, err)
		}(svc)
	}
	wg.Wait()

	seen := map[int64]int{}
	for _, p := range h.intake.packets {
		assert.LessOrEqual(t, len(p.ids), MaxPacketSize)
		for _, id := range p.ids {
			seen[id]++
		}
	}
	assert.Len(t, seen, 120)
	for id, n := range seen {
		assert.Equal(t, 1, n, "claim %d sent more than once", id)
	}
	assert.Equal(t, int64(120), h.counts(t).Enqueued)
}
