// Package context implements the context snapshot monitor (spec §4.8c):
// a rolling activity digest emitted on foreground changes and on idle
// gaps, never on a fixed cadence of its own.
package context

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/littlebro/lb3/internal/bus"
	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const monitorName = "context_snapshot"

// DefaultIdleGapS is the spec §4.7 default for context_idle_gap: 7.0s.
const DefaultIdleGapS = 7.0

// ParseIdleGap parses a "<T>s" or bare-number string, falling back to
// DefaultIdleGapS on any parse failure, matching how config strings
// degrade elsewhere in this package (spec §6).
func ParseIdleGap(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultIdleGapS
	}
	if strings.HasSuffix(s, "s") {
		s = strings.TrimSuffix(s, "s")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return DefaultIdleGapS
	}
	return v
}

type counters struct {
	kbDown      int
	kbUp        int
	mouseMoves  int
	mouseClicks int
	mouseScroll int
}

func (c *counters) reset() { *c = counters{} }

func (c *counters) toAttrs() map[string]any {
	return map[string]any{
		"kb_down":      c.kbDown,
		"kb_up":        c.kbUp,
		"mouse_moves":  c.mouseMoves,
		"mouse_clicks": c.mouseClicks,
		"mouse_scroll": c.mouseScroll,
	}
}

// Monitor subscribes to the event bus and emits a snapshot event whenever
// the foreground window changes or the idle gap since the last
// keyboard/mouse/active_window event is exceeded.
type Monitor struct {
	base     *monitor.Base
	b        *bus.Bus
	sched    scheduler.Scheduler
	idleGapS float64
	pollS    float64

	mu                sync.Mutex
	counters          counters
	lastEventTimeS    float64
	haveLastEvent     bool
	lastEventMonitor  string
	lastSnapshotTimeS float64
	gapWindowStartS   float64
	flushHandle       scheduler.Handle
	started           bool
}

// New constructs a context snapshot monitor. idleGapS is typically
// cfg.Heartbeat.PollIntervals.ContextIdleGap; zero or less selects
// DefaultIdleGapS. b may be nil (dry run), in which case nothing is
// subscribed and only the idle-gap timer runs.
func New(sessionID string, sched scheduler.Scheduler, emit monitor.EmitFunc, b *bus.Bus, idleGapS float64) *Monitor {
	if idleGapS <= 0 {
		idleGapS = DefaultIdleGapS
	}
	pollS := idleGapS / 7.0
	if pollS > 1.0 {
		pollS = 1.0
	}
	base := monitor.NewBase(monitorName, sessionID, sched, monitor.BatchConfig{MaxSize: 1, MaxTimeS: 1e9}, emit)
	return &Monitor{
		base:     base,
		b:        b,
		sched:    sched,
		idleGapS: idleGapS,
		pollS:    pollS,
	}
}

func (m *Monitor) Start() error {
	m.base.Start()
	now := m.sched.Now()

	m.mu.Lock()
	m.started = true
	m.lastEventTimeS = now
	m.haveLastEvent = true
	m.lastSnapshotTimeS = now
	m.gapWindowStartS = now
	m.armTimerLocked()
	m.mu.Unlock()

	if m.b != nil {
		m.b.Subscribe(m.handleEvent)
		m.b.Start()
	}
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

func (m *Monitor) armTimerLocked() {
	m.flushHandle = m.sched.CallLater(m.pollS, m.onPollTick)
}

func (m *Monitor) onPollTick() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.armTimerLocked()
	m.mu.Unlock()
	m.checkIdleGap()
}

// handleEvent is the bus subscription callback. Only keyboard, mouse, and
// active_window window_change events reset the idle timer; every
// monitor's own counters (where applicable) update unconditionally
// whenever its events arrive, independent of whether the idle timer
// resets (SPEC_FULL.md §E open-question decision).
func (m *Monitor) handleEvent(e *event.Event) {
	if e.Monitor == monitorName || e.Monitor == "heartbeat" {
		return
	}

	switch e.Monitor {
	case "keyboard":
		m.addKeyboardCounters(e)
		m.resetIdle(e.Monitor)
	case "mouse":
		m.addMouseCounters(e)
		m.resetIdle(e.Monitor)
	case "active_window":
		if e.Action == "window_change" {
			m.resetIdle(e.Monitor)
			m.emitSnapshot()
		}
	}
}

func (m *Monitor) resetIdle(source string) {
	m.mu.Lock()
	m.lastEventTimeS = m.sched.Now()
	m.haveLastEvent = true
	m.lastEventMonitor = source
	m.mu.Unlock()
}

func (m *Monitor) addKeyboardCounters(e *event.Event) {
	attrs := decodeAttrs(e.AttrsJSON)
	m.mu.Lock()
	m.counters.kbDown += intAttr(attrs, "keydown")
	m.counters.kbUp += intAttr(attrs, "keyup")
	m.mu.Unlock()
}

func (m *Monitor) addMouseCounters(e *event.Event) {
	attrs := decodeAttrs(e.AttrsJSON)
	m.mu.Lock()
	m.counters.mouseMoves += intAttr(attrs, "moves")
	m.counters.mouseClicks += intAttr(attrs, "click_left") + intAttr(attrs, "click_right") + intAttr(attrs, "click_middle")
	m.counters.mouseScroll += intAttr(attrs, "scroll")
	m.mu.Unlock()
}

func decodeAttrs(attrsJSON string) map[string]any {
	if attrsJSON == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(attrsJSON), &m)
	return m
}

func intAttr(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(f)
}

// checkIdleGap emits a snapshot if the idle gap has elapsed since the
// last qualifying event and this gap window hasn't already emitted one.
func (m *Monitor) checkIdleGap() {
	now := m.sched.Now()

	m.mu.Lock()
	sinceLastEvent := now - m.lastEventTimeS
	shouldEmit := m.haveLastEvent && sinceLastEvent >= m.idleGapS && now > m.gapWindowStartS+m.idleGapS
	if shouldEmit {
		m.gapWindowStartS = now
	}
	m.mu.Unlock()

	if shouldEmit {
		m.emitSnapshot()
	}
}

func (m *Monitor) emitSnapshot() {
	now := m.sched.Now()

	m.mu.Lock()
	attrs := m.counters.toAttrs()
	m.counters.reset()
	sinceMS := int64((now - m.lastSnapshotTimeS) * 1000)
	lastMonitor := m.lastEventMonitor
	m.lastSnapshotTimeS = now
	m.mu.Unlock()

	attrs["since_ms"] = sinceMS
	if lastMonitor == "" {
		attrs["last_event_monitor"] = nil
	} else {
		attrs["last_event_monitor"] = lastMonitor
	}

	e, err := event.New("", 0, monitorName, "snapshot", event.SubjectNone, "")
	if err != nil {
		return
	}
	_ = m.base.Submit(e, attrs)
}
