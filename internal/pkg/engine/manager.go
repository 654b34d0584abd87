// Package engine runs the claim pipelines on background tickers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/app/repository"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/attachments"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/dispatch"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/recovery"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/staging"
)

// Worker names
const (
	WorkerStage       = "stage"
	WorkerDispatch    = "dispatch"
	WorkerAttachments = "attachments"
	WorkerMapping     = "mapping"
	WorkerCompletion  = "completion"
)

var ErrRecoveryFailed = errors.New("crash recovery failed")

// Stager stages one batch
type Stager interface {
	StageBatch(ctx context.Context, batchID uint) (staging.Result, error)
}

// Dispatcher dispatches one batch
type Dispatcher interface {
	DispatchBatch(ctx context.Context, batchID uint) (dispatch.Result, error)
}

// AttachmentProcessor uploads the attachments of one batch
type AttachmentProcessor interface {
	ProcessBatch(ctx context.Context, batchID uint) (attachments.Result, error)
}

// MappingSyncer exchanges domain mappings with the intake
type MappingSyncer interface {
	PostMissing(ctx context.Context) (int, error)
	RefreshApproved(ctx context.Context) (int, int64, error)
}

// Config holds the worker intervals
type Config struct {
	ProviderCode       string
	StageInterval      time.Duration
	DispatchInterval   time.Duration
	AttachmentInterval time.Duration
	MappingInterval    time.Duration
	CompletionInterval time.Duration
}

// Dependencies are the pipelines driven by the manager
type Dependencies struct {
	Store       *repository.Store
	Stager      Stager
	Dispatcher  Dispatcher
	Attachments AttachmentProcessor
	Mapping     MappingSyncer
	Clock       clock.Clock
	Reporter    progress.Reporter
}

// WorkerStatus describes the last run of one worker
type WorkerStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int64         `json:"runs"`
	LastRunAt *time.Time    `json:"lastRunAt,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

// Status is a snapshot of the manager
type Status struct {
	Running   bool            `json:"running"`
	StartedAt *time.Time      `json:"startedAt,omitempty"`
	Recovery  recovery.Result `json:"recovery"`
	Workers   []WorkerStatus  `json:"workers"`
}

type worker struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Manager owns the pipeline workers
type Manager struct {
	deps    Dependencies
	cfg     Config
	workers []worker

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt *time.Time
	recovered recovery.Result

	statsMu sync.Mutex
	stats   map[string]*WorkerStatus
}

// NewManager creates a stopped manager. Workers with a nil pipeline or a
// non-positive interval are not started.
func NewManager(deps Dependencies, cfg Config) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.Nop()
	}
	m := &Manager{deps: deps, cfg: cfg, stats: make(map[string]*WorkerStatus)}

	add := func(name string, interval time.Duration, enabled bool, run func(context.Context) error) {
		if !enabled || interval <= 0 {
			return
		}
		m.workers = append(m.workers, worker{name: name, interval: interval, run: run})
		m.stats[name] = &WorkerStatus{Name: name, Interval: interval}
	}
	add(WorkerStage, cfg.StageInterval, deps.Stager != nil, m.stageTick)
	add(WorkerDispatch, cfg.DispatchInterval, deps.Dispatcher != nil, m.dispatchTick)
	add(WorkerAttachments, cfg.AttachmentInterval, deps.Attachments != nil, m.attachmentTick)
	add(WorkerMapping, cfg.MappingInterval, deps.Mapping != nil, m.mappingTick)
	add(WorkerCompletion, cfg.CompletionInterval, true, m.completionTick)
	return m
}

// Start runs crash recovery and then the workers. No worker starts when
// recovery fails. Starting a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	log.Info("[Engine] Starting")

	res, err := recovery.Run(ctx, m.deps.Store, m.deps.Clock, m.deps.Reporter)
	if err != nil {
		log.Errorf("[Engine] Crash recovery failed, workers not started: %v", err)
		m.deps.Reporter.Report(progress.Event{Stage: progress.StageEngine, Message: "Crash recovery failed", IsError: true})
		return fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	m.recovered = res

	workCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	for _, w := range m.workers {
		m.wg.Add(1)
		go m.loop(workCtx, w)
	}
	now := m.deps.Clock.Now()
	m.startedAt = &now
	m.running = true

	m.deps.Reporter.Report(progress.Event{Stage: progress.StageEngine, Message: "Engine started"})
	log.Infof("[Engine] Started %d workers", len(m.workers))
	return nil
}

// Stop cancels the workers and waits for them to return
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Engine] Stopping...")
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	m.running = false
	m.startedAt = nil

	m.deps.Reporter.Report(progress.Event{Stage: progress.StageEngine, Message: "Engine stopped"})
	log.Info("[Engine] Stopped")
}

// Running reports whether the workers are active
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns a snapshot of the manager and its workers
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{Running: m.running, StartedAt: m.startedAt, Recovery: m.recovered}
	m.mu.Unlock()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	for _, w := range m.workers {
		ws := *m.stats[w.name]
		st.Workers = append(st.Workers, ws)
	}
	return st
}

// loop runs w once immediately and then on every tick
func (m *Manager) loop(ctx context.Context, w worker) {
	defer m.wg.Done()
	log.Infof("[Engine] Started %s worker (interval: %s)", w.name, w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		m.runOnce(ctx, w)
		select {
		case <-ctx.Done():
			log.Infof("[Engine] %s worker stopping", w.name)
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) runOnce(ctx context.Context, w worker) {
	err := w.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("[Engine] %s worker: %v", w.name, err)
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	ws := m.stats[w.name]
	now := m.deps.Clock.Now()
	ws.Runs++
	ws.LastRunAt = &now
	ws.LastError = ""
	if err != nil {
		ws.LastError = err.Error()
	}
}
