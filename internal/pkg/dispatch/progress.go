package dispatch

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/ClaimAgent/app/models"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
)

// tracker follows the enqueued share of a batch while it is sent
type tracker struct {
	batchID  uint
	total    int64
	enqueued int64
}

func (s *Service) newTracker(ctx context.Context, batch *models.Batch) (*tracker, error) {
	counts, err := s.Store.Read(ctx).Claim.CountByEnqueueStatus(batch.ProviderCode, &batch.ID)
	if err != nil {
		return nil, fmt.Errorf("count batch claims: %w", err)
	}
	t := &tracker{batchID: batch.ID, total: counts.Total, enqueued: counts.Enqueued}
	t.report(s.Reporter, fmt.Sprintf("Sending claims %d of %d", t.enqueued, t.total))
	return t, nil
}

func (t *tracker) percent() float64 {
	if t.total == 0 {
		return 100
	}
	return progressBase + progressShare*float64(t.enqueued)/float64(t.total)
}

func (t *tracker) report(r progress.Reporter, msg string) {
	r.Report(progress.Event{Stage: progress.StageDispatch, Message: msg}.
		WithBatch(t.batchID).WithPercent(t.percent()).WithCounts(t.enqueued, t.total))
}

func (t *tracker) reportSending(r progress.Reporter, n int) {
	t.report(r, fmt.Sprintf("Sending claims %d-%d of %d", t.enqueued+1, t.enqueued+int64(n), t.total))
}
