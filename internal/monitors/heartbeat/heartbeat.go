// Package heartbeat implements the heartbeat monitor (spec §4.8g): a
// liveness signal emitted at a fixed cadence, with an optional finite beat
// count used to drive a dry run to natural completion (spec §4.9).
package heartbeat

import (
	"sync"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const monitorName = "heartbeat"

// Config controls the heartbeat cadence and, optionally, a finite beat
// count. TotalBeats of 0 means run indefinitely (spec §4.8g).
type Config struct {
	IntervalS  float64
	TotalBeats int
}

func DefaultConfig() Config {
	return Config{IntervalS: 1.0, TotalBeats: 0}
}

// Monitor emits heartbeat/heartbeat at Config.IntervalS, immediately on
// Start and then on every subsequent tick, until stopped or — if
// TotalBeats > 0 — until that many beats have been emitted, at which
// point it calls onComplete so the supervisor can drive a natural dry-run
// shutdown (spec §4.9).
type Monitor struct {
	base       *monitor.Base
	sched      scheduler.Scheduler
	intervalS  float64
	totalBeats int
	onComplete func()

	mu          sync.Mutex
	beatCount   int
	startTimeS  float64
	flushHandle scheduler.Handle
	started     bool
}

// New constructs a heartbeat monitor. onComplete may be nil; it is called
// at most once, after the final beat, when cfg.TotalBeats > 0.
func New(sessionID string, sched scheduler.Scheduler, cfg Config, emit monitor.EmitFunc, onComplete func()) *Monitor {
	base := monitor.NewBase(monitorName, sessionID, sched, monitor.BatchConfig{MaxSize: 1, MaxTimeS: 1e9}, emit)
	return &Monitor{
		base:       base,
		sched:      sched,
		intervalS:  cfg.IntervalS,
		totalBeats: cfg.TotalBeats,
		onComplete: onComplete,
	}
}

func (m *Monitor) Start() error {
	m.base.Start()

	m.mu.Lock()
	m.started = true
	m.beatCount = 0
	m.startTimeS = m.sched.Now()
	m.mu.Unlock()

	m.emitBeat()
	m.armNextBeat()
	return nil
}

func (m *Monitor) StartInlineForTests() error {
	return m.Start()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.started {
		m.started = false
		m.sched.Cancel(m.flushHandle)
	}
	m.mu.Unlock()
	m.base.Stop()
}

// BeatCount reports how many heartbeats have been emitted so far.
func (m *Monitor) BeatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beatCount
}

func (m *Monitor) armNextBeat() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	reachedLimit := m.totalBeats > 0 && m.beatCount >= m.totalBeats
	m.mu.Unlock()

	if reachedLimit {
		m.finish()
		return
	}
	m.flushHandle = m.sched.CallLater(m.intervalS, m.onTick)
}

func (m *Monitor) onTick() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.emitBeat()
	m.armNextBeat()
}

func (m *Monitor) finish() {
	m.mu.Lock()
	m.started = false
	onComplete := m.onComplete
	m.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}
}

func (m *Monitor) emitBeat() {
	now := m.sched.Now()

	m.mu.Lock()
	m.beatCount++
	beatNumber := m.beatCount
	uptime := now - m.startTimeS
	m.mu.Unlock()

	e, err := event.New("", 0, monitorName, "heartbeat", event.SubjectNone, "")
	if err != nil {
		return
	}
	_ = m.base.Submit(e, map[string]any{
		"beat_number": beatNumber,
		"interval":    m.intervalS,
		"uptime":      uptime,
	})
}
