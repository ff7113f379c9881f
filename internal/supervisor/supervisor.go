// Package supervisor owns the daemon's lifecycle: ordered startup of the
// bus, spool-backed sink, and monitors; per-monitor failure isolation so
// one capture source being unavailable never aborts the others; and
// reverse-ordered, bounded-timeout shutdown on signal or natural dry-run
// completion (spec §4.9).
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/littlebro/lb3/internal/bus"
	"github.com/littlebro/lb3/internal/logctx"
)

// ShutdownBudget bounds the total time reverse-ordered shutdown is allowed
// to take across every registered component (spec §4.9).
const ShutdownBudget = 10 * time.Second

// Monitor is the narrow lifecycle surface every concrete monitor in
// internal/monitors satisfies.
type Monitor interface {
	Start() error
	Stop()
}

// registration pairs a monitor with the name it is logged under. A failed
// Start is recorded but never aborts the others (spec: capture-unavailable
// is a degraded, not fatal, disposition).
type registration struct {
	name string
	mon  Monitor
}

// StartFailure records one monitor that failed to start, for diagnostics
// (internal/diag).
type StartFailure struct {
	Name string
	Err  error
}

// Sink is the narrow surface the spool's Close needs to satisfy for
// shutdown; kept local so this package need not import internal/spool
// directly.
type Sink interface{ Close() error }

// Supervisor orchestrates the bus, sink, and monitor set as a single unit.
// Bus and Sink are optional: a dry run supplies neither and monitors write
// straight to monitor.DryRunEmit instead.
type Supervisor struct {
	Bus  *bus.Bus
	Sink Sink

	monitors []registration

	mu       sync.Mutex
	started  []registration // in start order, for reverse-order shutdown
	failures []StartFailure

	doneCh chan struct{} // closed once, on natural dry-run completion
	once   sync.Once
}

// New constructs a Supervisor. bus and sink may both be nil for a dry run.
func New(b *bus.Bus, sink Sink) *Supervisor {
	return &Supervisor{
		Bus:    b,
		Sink:   sink,
		doneCh: make(chan struct{}),
	}
}

// Register adds a monitor to the startup/shutdown order. Call before Run.
func (s *Supervisor) Register(name string, mon Monitor) {
	s.monitors = append(s.monitors, registration{name: name, mon: mon})
}

// NotifyComplete is the hook a finite-beat heartbeat monitor's onComplete
// callback invokes to drive a natural dry-run shutdown without a signal
// (spec §4.9).
func (s *Supervisor) NotifyComplete() {
	s.once.Do(func() { close(s.doneCh) })
}

// Run starts the bus (if any), then every registered monitor in
// registration order, then blocks until SIGINT/SIGTERM or a natural
// completion signal, then shuts everything down in reverse order within
// ShutdownBudget. It returns nil: a sink Close error is logged, and
// monitor start failures are not returned here, only recorded — fetch
// them with Failures().
func (s *Supervisor) Run(ctx context.Context) error {
	log := logctx.For("supervisor")

	if s.Bus != nil {
		s.Bus.Start()
	}

	for _, r := range s.monitors {
		if err := r.mon.Start(); err != nil {
			log.Warn("monitor failed to start", "monitor", r.name, "err", err)
			s.mu.Lock()
			s.failures = append(s.failures, StartFailure{Name: r.name, Err: err})
			s.mu.Unlock()
			continue
		}
		log.Info("monitor started", "monitor", r.name)
		s.mu.Lock()
		s.started = append(s.started, r)
		s.mu.Unlock()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case <-s.doneCh:
		log.Info("dry run completed naturally, shutting down")
	case <-ctx.Done():
		log.Info("context canceled, shutting down")
	}

	return s.shutdown()
}

// Failures reports every monitor that failed to start, for inclusion in
// `lb3d diag`/`lb3d status` output.
func (s *Supervisor) Failures() []StartFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StartFailure, len(s.failures))
	copy(out, s.failures)
	return out
}

// Started reports the names of monitors that started successfully.
func (s *Supervisor) Started() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.started))
	for i, r := range s.started {
		out[i] = r.name
	}
	return out
}

// shutdown stops every started monitor in reverse order, then the sink,
// then the bus, sharing one ShutdownBudget deadline across all of them so
// a single stuck component can't consume the whole budget by itself.
func (s *Supervisor) shutdown() error {
	log := logctx.For("supervisor")
	deadline := time.Now().Add(ShutdownBudget)

	s.mu.Lock()
	started := make([]registration, len(s.started))
	copy(started, s.started)
	s.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		r := started[i]
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Warn("shutdown budget exhausted, skipping remaining stops", "monitor", r.name)
			continue
		}
		// i+1 monitors are still to be stopped, this one included.
		stopWithTimeout(r.name, r.mon.Stop, remaining/time.Duration(i+1), log)
	}

	if s.Sink != nil {
		if err := s.Sink.Close(); err != nil {
			log.Warn("error closing sink on shutdown", "err", err)
		}
	}

	if s.Bus != nil {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		s.Bus.Stop(remaining)
	}

	return nil
}

// stopWithTimeout runs stop on its own goroutine and logs, but does not
// block past timeout, so one wedged monitor can't starve the others of
// their share of ShutdownBudget.
func stopWithTimeout(name string, stop func(), timeout time.Duration, log *slog.Logger) {
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("monitor did not stop within its shutdown share", "monitor", name)
	}
}
