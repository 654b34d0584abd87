// Package progress fans pipeline progress events out to observers.
package progress

import (
	"sync"
	"time"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/clock"
)

// Stage names
const (
	StageRecovery    = "recovery"
	StageStaging     = "staging"
	StageDispatch    = "dispatch"
	StageAttachments = "attachments"
	StageMapping     = "mapping"
	StageEngine      = "engine"
)

// Event is one progress report
type Event struct {
	Stage          string    `json:"stage"`
	Message        string    `json:"message"`
	BatchID        *uint     `json:"batchId,omitempty"`
	Percentage     *float64  `json:"percentage,omitempty"`
	ProcessedCount *int64    `json:"processedCount,omitempty"`
	TotalCount     *int64    `json:"totalCount,omitempty"`
	IsError        bool      `json:"isError,omitempty"`
	At             time.Time `json:"at"`
}

// WithBatch sets the batch id
func (e Event) WithBatch(id uint) Event {
	e.BatchID = &id
	return e
}

// WithPercent sets the percentage, clamped to 0..100
func (e Event) WithPercent(p float64) Event {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	e.Percentage = &p
	return e
}

// WithCounts sets processed and total counts
func (e Event) WithCounts(processed, total int64) Event {
	e.ProcessedCount = &processed
	e.TotalCount = &total
	return e
}

// Reporter receives progress events. Report must not block.
type Reporter interface {
	Report(e Event)
}

type nop struct{}

func (nop) Report(Event) {}

// Nop returns a reporter that drops every event
func Nop() Reporter {
	return nop{}
}

type multi []Reporter

func (m multi) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// Multi forwards every event to all reporters
func Multi(reporters ...Reporter) Reporter {
	out := make(multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Broadcaster keeps a ring of recent events and forwards new ones to
// subscribers. Slow subscribers miss events rather than block the pipelines.
type Broadcaster struct {
	mu     sync.Mutex
	clock  clock.Clock
	ring   []Event
	next   int
	full   bool
	subs   map[int]chan Event
	nextID int
}

// NewBroadcaster keeps up to size recent events
func NewBroadcaster(size int, clk clock.Clock) *Broadcaster {
	if size <= 0 {
		size = 200
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Broadcaster{clock: clk, ring: make([]Event, size), subs: make(map[int]chan Event)}
}

// Report stores and fans out an event
func (b *Broadcaster) Report(e Event) {
	if e.At.IsZero() {
		e.At = b.clock.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns stored events, oldest first
func (b *Broadcaster) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]Event(nil), b.ring[:b.next]...)
	}
	out := make([]Event, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	return append(out, b.ring[:b.next]...)
}

// Subscribe returns a channel of new events and a function that ends the subscription
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
