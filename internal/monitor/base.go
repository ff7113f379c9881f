// Package monitor implements the batching discipline every concrete
// monitor composes with (spec §4.7, "Monitor base (C7)"). It owns
// validation, enrichment, size/time batching, and emission through an
// EmitFunc; concrete monitors own only their OS-specific capture
// loop and call Submit for each raw observation.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/ids"
	"github.com/littlebro/lb3/internal/logctx"
	"github.com/littlebro/lb3/internal/scheduler"
)

// EmitFunc receives one finished batch in submission order. Dry-run
// implementations log each event. The production implementation in
// cmd/lb3d writes the batch to the spool through the quota controller
// itself; batches do not reach the spool by way of the bus, and only
// active_window, keyboard and mouse batches are also published to the
// bus. Either way, every member of one batch is handed to EmitFunc
// before any member of the next (spec §4.7.5).
type EmitFunc func(batch []*event.Event)

// Base is embedded by every concrete monitor. It is not itself a monitor:
// it has no capture loop of its own, only the batching/lifecycle
// machinery that every concrete monitor shares.
type Base struct {
	Name      string
	SessionID string

	sched scheduler.Scheduler
	cfg   BatchConfig
	emit  EmitFunc

	mu          sync.Mutex
	batch       []*event.Event
	flushHandle scheduler.Handle
	started     bool
	lastFlush   float64
}

// NewBase constructs a Base for the monitor named name. sched drives the
// time-based flush (a RealScheduler in production, a ManualScheduler
// under test via StartInlineForTests).
func NewBase(name, sessionID string, sched scheduler.Scheduler, cfg BatchConfig, emit EmitFunc) *Base {
	return &Base{
		Name:      name,
		SessionID: sessionID,
		sched:     sched,
		cfg:       cfg,
		emit:      emit,
	}
}

// Start arms the time-based flush timer. Idempotent.
func (b *Base) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.lastFlush = b.sched.Now()
	b.armTimerLocked()
}

// StartInlineForTests exposes the identical contract as Start but is
// named distinctly so test code documents its intent: the caller is
// expected to pair it with a ManualScheduler and drive flushes via
// Advance rather than a background goroutine (spec §4.7.1).
func (b *Base) StartInlineForTests() {
	b.Start()
}

// Stop signals shutdown, flushing whatever remains in the current batch.
// Idempotent.
func (b *Base) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.sched.Cancel(b.flushHandle)
	batch := b.drainLocked()
	b.mu.Unlock()

	b.emitBatch(batch)
}

func (b *Base) armTimerLocked() {
	b.flushHandle = b.sched.CallLater(b.cfg.MaxTimeS, b.onTimerFire)
}

func (b *Base) onTimerFire() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	batch := b.drainLocked()
	b.lastFlush = b.sched.Now()
	b.armTimerLocked()
	b.mu.Unlock()

	b.emitBatch(batch)
}

func (b *Base) drainLocked() []*event.Event {
	batch := b.batch
	b.batch = nil
	return batch
}

func (b *Base) emitBatch(batch []*event.Event) {
	if len(batch) == 0 {
		return
	}
	b.emit(batch)
}

// Submit validates and enriches e, appending it to the current batch, and
// flushes immediately (canceling and re-arming the time-based timer) if
// the size threshold is reached. attrs, if non-nil, is serialized onto
// e.AttrsJSON before enrichment completes.
func (b *Base) Submit(e *event.Event, attrs map[string]any) error {
	if err := b.validate(e); err != nil {
		return err
	}
	b.enrich(e)
	if attrs != nil {
		if err := e.WithAttrs(attrs); err != nil {
			return fmt.Errorf("monitor %s: %w", b.Name, err)
		}
	}

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return fmt.Errorf("monitor %s: submit called before start", b.Name)
	}
	b.batch = append(b.batch, e)
	var flushNow []*event.Event
	if len(b.batch) >= b.cfg.MaxSize {
		b.sched.Cancel(b.flushHandle)
		flushNow = b.drainLocked()
		b.lastFlush = b.sched.Now()
		b.armTimerLocked()
	}
	b.mu.Unlock()

	b.emitBatch(flushNow)
	return nil
}

func (b *Base) validate(e *event.Event) error {
	if e.Action == "" {
		return fmt.Errorf("monitor %s: event missing action", b.Name)
	}
	if e.SubjectType == "" {
		return fmt.Errorf("monitor %s: event missing subject_type", b.Name)
	}
	if e.Monitor != "" && e.Monitor != b.Name {
		return fmt.Errorf("monitor %s: event monitor field %q disagrees with owner", b.Name, e.Monitor)
	}
	return nil
}

func (b *Base) enrich(e *event.Event) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.TsUTC == 0 {
		e.TsUTC = time.Now().UTC().UnixMilli()
	}
	if e.Monitor == "" {
		e.Monitor = b.Name
	}
	if e.SessionID == "" {
		e.SessionID = b.SessionID
	}
}

// DryRunEmit is an EmitFunc that logs each event's action, subject_type
// and ts_utc to the monitor's own logger rather than writing it anywhere,
// for use when the supervisor is running in dry-run mode.
func DryRunEmit(name string) EmitFunc {
	log := logctx.For(name)
	return func(batch []*event.Event) {
		for _, e := range batch {
			log.Info("dry-run event", "action", e.Action, "subject_type", string(e.SubjectType), "ts_utc", e.TsUTC)
		}
	}
}
