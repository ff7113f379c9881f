// Package mouse implements the mouse dynamics monitor (spec §4.8c): move
// counts, click counts by button, scroll ticks, and a running
// pixel-distance total. No raw coordinate is ever emitted.
package mouse

import (
	"sync"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/lberrors"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const monitorName = "mouse"

// Source is the OS-level mouse hook. Coordinates are passed in only to
// compute distance inline; the monitor keeps just the previous position
// for that and never emits or forwards a coordinate.
type Source interface {
	Start(onMove func(x, y int), onClick func(button string, pressed bool), onScroll func(dx, dy int)) error
	Stop()
}

// UnavailableSource is the default when no platform hook is wired in.
type UnavailableSource struct{}

func (UnavailableSource) Start(onMove func(x, y int), onClick func(button string, pressed bool), onScroll func(dx, dy int)) error {
	return lberrors.New(lberrors.KindCaptureUnavailable, monitorName, "no mouse hook implementation wired for this platform")
}
func (UnavailableSource) Stop() {}

// Config mirrors spec §4.7's mouse-specific defaults: 64 or 1.5s.
type Config struct {
	MaxEvents int
	MaxTimeS  float64
}

func DefaultConfig() Config {
	return Config{MaxEvents: 64, MaxTimeS: 1.5}
}

// Monitor is the mouse dynamics monitor, structured identically to
// keyboard.Monitor: it owns its own raw-count/time thresholds and hands
// the embedded Base a single finished stats event per internal flush.
type Monitor struct {
	base   *monitor.Base
	cfg    Config
	source Source
	sched  scheduler.Scheduler

	mu          sync.Mutex
	stats       stats
	flushHandle scheduler.Handle
	started     bool
}

func New(sessionID string, sched scheduler.Scheduler, cfg Config, emit monitor.EmitFunc, source Source) *Monitor {
	if source == nil {
		source = UnavailableSource{}
	}
	base := monitor.NewBase(monitorName, sessionID, sched, monitor.BatchConfig{MaxSize: 1, MaxTimeS: 1e9}, emit)
	return &Monitor{
		base:   base,
		cfg:    cfg,
		source: source,
		sched:  sched,
	}
}

func (m *Monitor) Start() error {
	m.base.Start()
	m.mu.Lock()
	m.started = true
	m.armTimerLocked()
	m.mu.Unlock()

	return m.source.Start(m.onMove, m.onClick, m.onScroll)
}

func (m *Monitor) StartInlineForTests() error {
	return m.Start()
}

func (m *Monitor) Stop() {
	m.source.Stop()

	m.mu.Lock()
	if m.started {
		m.started = false
		m.sched.Cancel(m.flushHandle)
	}
	m.mu.Unlock()

	m.flushStats()
	m.base.Stop()
}

func (m *Monitor) armTimerLocked() {
	m.flushHandle = m.sched.CallLater(m.cfg.MaxTimeS, m.onTimerFire)
}

func (m *Monitor) onTimerFire() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.armTimerLocked()
	m.mu.Unlock()
	m.flushStats()
}

// EmitMove, EmitClick, EmitScroll are exposed for real hooks and tests.
func (m *Monitor) EmitMove(x, y int)                      { m.onMove(x, y) }
func (m *Monitor) EmitClick(button string, pressed bool)  { m.onClick(button, pressed) }
func (m *Monitor) EmitScroll(dx, dy int)                  { m.onScroll(dx, dy) }

func (m *Monitor) onMove(x, y int) {
	m.mu.Lock()
	m.stats.recordMove(x, y)
	shouldFlush := m.stats.total() >= m.cfg.MaxEvents
	m.mu.Unlock()
	if shouldFlush {
		m.flushStats()
	}
}

func (m *Monitor) onClick(button string, pressed bool) {
	if !pressed {
		return
	}
	m.mu.Lock()
	m.stats.recordClick(button)
	shouldFlush := m.stats.total() >= m.cfg.MaxEvents
	m.mu.Unlock()
	if shouldFlush {
		m.flushStats()
	}
}

func (m *Monitor) onScroll(dx, dy int) {
	m.mu.Lock()
	m.stats.recordScroll(dx, dy)
	shouldFlush := m.stats.total() >= m.cfg.MaxEvents
	m.mu.Unlock()
	if shouldFlush {
		m.flushStats()
	}
}

func (m *Monitor) flushStats() {
	m.mu.Lock()
	if m.stats.total() == 0 {
		m.mu.Unlock()
		return
	}
	attrs := m.stats.toAttrs()
	m.stats.reset()
	m.mu.Unlock()

	e, err := event.New("", 0, monitorName, "stats", event.SubjectNone, "")
	if err != nil {
		return
	}
	_ = m.base.Submit(e, attrs)
}
