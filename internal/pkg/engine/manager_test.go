package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/attachments"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/dispatch"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/staging"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/testutil"
)

const provider = "PRV1"

var t0 = time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)

// calls records the batch ids a fake pipeline was invoked with
type calls struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (c *calls) record(id uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return c.err
}

func (c *calls) got() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint(nil), c.ids...)
}

type fakeStager struct{ calls }

func (f *fakeStager) StageBatch(_ context.Context, id uint) (staging.Result, error) {
	return staging.Result{}, f.record(id)
}

type fakeDispatcher struct{ calls }

func (f *fakeDispatcher) DispatchBatch(_ context.Context, id uint) (dispatch.Result, error) {
	return dispatch.Result{}, f.record(id)
}

type fakeAttachments struct{ calls }

func (f *fakeAttachments) ProcessBatch(_ context.Context, id uint) (attachments.Result, error) {
	return attachments.Result{}, f.record(id)
}

type fakeMapping struct {
	mu    sync.Mutex
	posts int
}

func (f *fakeMapping) PostMissing(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	return 0, nil
}

func (f *fakeMapping) RefreshApproved(context.Context) (int, int64, error) { return 0, 0, nil }

type harness struct {
	db          *gorm.DB
	store       *repository.Store
	clock       *clock.Manual
	stager      *fakeStager
	dispatcher  *fakeDispatcher
	attachments *fakeAttachments
	mapping     *fakeMapping
	manager     *Manager
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	db := testutil.OpenDB(t)
	h := &harness{
		db:          db,
		store:       repository.NewStore(db),
		clock:       clock.NewManual(t0),
		stager:      &fakeStager{},
		dispatcher:  &fakeDispatcher{},
		attachments: &fakeAttachments{},
		mapping:     &fakeMapping{},
	}
	h.manager = NewManager(Dependencies{
		Store:       h.store,
		Stager:      h.stager,
		Dispatcher:  h.dispatcher,
		Attachments: h.attachments,
		Mapping:     h.mapping,
		Clock:       h.clock,
	}, Config{
		ProviderCode:       provider,
		StageInterval:      interval,
		DispatchInterval:   interval,
		AttachmentInterval: interval,
		MappingInterval:    interval,
		CompletionInterval: interval,
	})
	return h
}

// batch creates a batch in status; month keeps the unique key apart
func (h *harness) batch(t *testing.T, month string, status models.BatchStatus, update repository.BatchStatusUpdate) uint {
	t.Helper()
	b := &models.Batch{ProviderCode: provider, CompanyCode: "C1", MonthKey: month}
	require.NoError(t, h.store.InTx(context.Background(), func(r *repository.Repositories) error {
		if err := r.Batch.CreateDraft(b); err != nil {
			return err
		}
		return r.Batch.UpdateStatus(b.ID, status, update, t0)
	}))
	return b.ID
}

func (h *harness) claim(t *testing.T, batchID uint, claimID int64, fn func(r *repository.Repositories, key models.ClaimKey) error) {
	t.Helper()
	require.NoError(t, h.store.InTx(context.Background(), func(r *repository.Repositories) error {
		if err := r.Claim.UpsertStaged(repository.StagedClaim{
			ProviderCode: provider, ClaimID: claimID, CompanyCode: "C1", MonthKey: "202603", BatchID: &batchID, Now: t0,
		}); err != nil {
			return err
		}
		if fn == nil {
			return nil
		}
		return fn(r, models.ClaimKey{ProviderCode: provider, ClaimID: claimID})
	}))
}

func failedClaim(backoff time.Duration) func(*repository.Repositories, models.ClaimKey) error {
	return func(r *repository.Repositories, key models.ClaimKey) error {
		return r.Claim.MarkFailed([]models.ClaimKey{key}, "boom", t0, backoff)
	}
}

func completedClaim(r *repository.Repositories, key models.ClaimKey) error {
	return r.Claim.SetCompletionStatus([]models.ClaimKey{key}, models.CompletionStatusCompleted, t0)
}

func TestStageTickSelectsDraftAndResumableBatches(t *testing.T) {
	h := newHarness(t, time.Hour)
	resume := true
	draft := h.batch(t, "202601", models.BatchStatusDraft, repository.BatchStatusUpdate{})
	resumable := h.batch(t, "202602", models.BatchStatusFetching, repository.BatchStatusUpdate{HasResume: &resume})
	h.batch(t, "202603", models.BatchStatusFetching, repository.BatchStatusUpdate{})
	h.batch(t, "202604", models.BatchStatusReady, repository.BatchStatusUpdate{})

	require.NoError(t, h.manager.stageTick(context.Background()))
	assert.Equal(t, []uint{draft, resumable}, h.stager.got())
}

func TestDispatchTickIncludesRetryDueBatches(t *testing.T) {
	h := newHarness(t, time.Hour)
	ready := h.batch(t, "202601", models.BatchStatusReady, repository.BatchStatusUpdate{})
	sending := h.batch(t, "202602", models.BatchStatusSending, repository.BatchStatusUpdate{})
	due := h.batch(t, "202603", models.BatchStatusEnqueued, repository.BatchStatusUpdate{})
	notDue := h.batch(t, "202604", models.BatchStatusEnqueued, repository.BatchStatusUpdate{})
	draft := h.batch(t, "202605", models.BatchStatusDraft, repository.BatchStatusUpdate{})

	h.claim(t, ready, 1, failedClaim(0))
	h.claim(t, due, 2, failedClaim(0))
	h.claim(t, notDue, 3, failedClaim(time.Hour))
	h.claim(t, draft, 4, failedClaim(0))

	require.NoError(t, h.manager.dispatchTick(context.Background()))
	assert.Equal(t, []uint{ready, sending, due}, h.dispatcher.got())
}

func TestAttachmentTickSelectsPendingAndDueFailures(t *testing.T) {
	h := newHarness(t, time.Hour)
	pending := h.batch(t, "202601", models.BatchStatusEnqueued, repository.BatchStatusUpdate{})
	done := h.batch(t, "202602", models.BatchStatusEnqueued, repository.BatchStatusUpdate{})
	retry := h.batch(t, "202603", models.BatchStatusCompleted, repository.BatchStatusUpdate{})
	h.batch(t, "202604", models.BatchStatusReady, repository.BatchStatusUpdate{})

	require.NoError(t, h.store.InTx(context.Background(), func(r *repository.Repositories) error {
		for _, id := range []uint{done, retry} {
			if err := r.Batch.MarkAttachmentsDone(id, t0); err != nil {
				return err
			}
		}
		a := &models.Attachment{
			AttachmentID: models.AttachmentIdentity(provider, 9, "a1"),
			ProviderCode: provider,
			ClaimID:      9,
			BatchID:      &retry,
			SourceType:   models.AttachmentSourceFilePath,
		}
		if err := r.Attachment.UpsertStaged(a, t0); err != nil {
			return err
		}
		return r.Attachment.MarkFailed(a.AttachmentID, "storage unavailable", t0, 0)
	}))

	require.NoError(t, h.manager.attachmentTick(context.Background()))
	assert.Equal(t, []uint{pending, retry}, h.attachments.got())
}

func TestCompletionTickClosesFullyCompletedBatches(t *testing.T) {
	h := newHarness(t, time.Hour)
	complete := h.batch(t, "202601", models.BatchStatusEnqueued, repository.BatchStatusUpdate{})
	partial := h.batch(t, "202602", models.BatchStatusEnqueued, repository.BatchStatusUpdate{})
	empty := h.batch(t, "202603", models.BatchStatusEnqueued, repository.BatchStatusUpdate{})

	h.claim(t, complete, 1, completedClaim)
	h.claim(t, complete, 2, completedClaim)
	h.claim(t, partial, 3, completedClaim)
	h.claim(t, partial, 4, nil)

	require.NoError(t, h.manager.completionTick(context.Background()))

	read := h.store.Read(context.Background())
	for id, want := range map[uint]models.BatchStatus{
		complete: models.BatchStatusCompleted,
		partial:  models.BatchStatusEnqueued,
		empty:    models.BatchStatusEnqueued,
	} {
		b, err := read.Batch.GetByID(id)
		require.NoError(t, err)
		assert.Equal(t, want, b.Status, "batch %d", id)
	}
}

func TestStartRecoversBeforeWorkersRun(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	batchID := h.batch(t, "202601", models.BatchStatusSending, repository.BatchStatusUpdate{})
	h.claim(t, batchID, 1, func(r *repository.Repositories, key models.ClaimKey) error {
		_, err := r.Claim.LeaseClaims(repository.LeaseRequest{
			ProviderCode:     provider,
			OwnerTag:         models.LeaseOwnerSender,
			Now:              t0.Add(-time.Hour),
			LeaseUntil:       t0.Add(-time.Minute),
			Take:             1,
			EligibleStatuses: []models.EnqueueStatus{models.EnqueueStatusNotSent},
		})
		return err
	})

	require.NoError(t, h.manager.Start(context.Background()))
	t.Cleanup(h.manager.Stop)

	st := h.manager.Status()
	assert.True(t, st.Running)
	assert.Equal(t, int64(1), st.Recovery.ClaimsRecovered)
	assert.Len(t, st.Workers, 5)

	c, err := h.store.Read(context.Background()).Claim.Get(models.ClaimKey{ProviderCode: provider, ClaimID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.EnqueueStatusNotSent, c.EnqueueStatus)

	require.Eventually(t, func() bool {
		return len(h.dispatcher.got()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// second start is a no-op
	require.NoError(t, h.manager.Start(context.Background()))

	h.manager.Stop()
	assert.False(t, h.manager.Running())
	stopped := len(h.dispatcher.got())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, len(h.dispatcher.got()))
}

func TestStartFailsWhenRecoveryFails(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	sqlDB, err := h.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = h.manager.Start(context.Background())
	assert.ErrorIs(t, err, ErrRecoveryFailed)
	assert.False(t, h.manager.Running())
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.stager.got())
}

func TestWorkerErrorsAreRecorded(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.batch(t, "202601", models.BatchStatusDraft, repository.BatchStatusUpdate{})
	h.stager.err = errors.New("provider database unreachable")

	require.NoError(t, h.manager.Start(context.Background()))
	defer h.manager.Stop()

	require.Eventually(t, func() bool {
		for _, w := range h.manager.Status().Workers {
			if w.Name == WorkerStage && w.Runs > 0 {
				return w.LastError != ""
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	for _, w := range h.manager.Status().Workers {
		if w.Name == WorkerStage {
			assert.Contains(t, w.LastError, "provider database unreachable")
			require.NotNil(t, w.LastRunAt)
		}
	}
}
