// Package recovery repairs leases and dispatches left behind by a crashed process.
package recovery

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
)

// InFlightDispatchMessage is recorded on dispatches whose outcome is unknown
const InFlightDispatchMessage = "process restarted mid-request"

// Result counts the rows repaired by one run
type Result struct {
	ClaimsRecovered  int64
	DispatchesFailed int64
}

// Run performs both repairs in one transaction. Running it again right
// after is a no-op.
func Run(ctx context.Context, store *repository.Store, clk clock.Clock, reporter progress.Reporter) (Result, error) {
	if reporter == nil {
		reporter = progress.Nop()
	}
	now := clk.Now()

	var res Result
	err := store.InTx(ctx, func(r *repository.Repositories) error {
		var err error
		if res.ClaimsRecovered, err = r.Claim.RecoverExpiredLeases(now); err != nil {
			return fmt.Errorf("recover claim leases: %w", err)
		}
		if res.DispatchesFailed, err = r.Dispatch.FailInFlight(InFlightDispatchMessage, now); err != nil {
			return fmt.Errorf("fail in-flight dispatches: %w", err)
		}
		return nil
	})
	if err != nil {
		reporter.Report(progress.Event{Stage: progress.StageRecovery, Message: "Crash recovery failed", IsError: true})
		return Result{}, err
	}

	if res.ClaimsRecovered > 0 || res.DispatchesFailed > 0 {
		log.Warnf("[Recovery] Restored %d claim leases, failed %d in-flight dispatches", res.ClaimsRecovered, res.DispatchesFailed)
	} else {
		log.Info("[Recovery] Nothing to recover")
	}
	reporter.Report(progress.Event{
		Stage:   progress.StageRecovery,
		Message: fmt.Sprintf("Recovered %d claims and %d dispatches", res.ClaimsRecovered, res.DispatchesFailed),
	}.WithPercent(100))
	return res, nil
}
