// Package keyboard implements the privacy-critical keyboard dynamics
// monitor (spec §4.8b): timing-only statistics, never a key character,
// scan code, or virtual-key constant.
package keyboard

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/lberrors"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const (
	burstThresholdKeys = 5
	burstThresholdMS   = 500.0

	monitorName = "keyboard"
)

// forbiddenSubstrings are checked against the marshaled attrs payload
// immediately before emission; their presence would indicate a plaintext
// leak somewhere upstream (spec §4.8b).
var forbiddenSubstrings = []string{
	"key_char", "scan_code", "vk_", "char", "text", "letter", "digit",
	"password", "username", "secret", "private",
}

// Source is the OS-level keyboard hook. Implementations must call
// onPress/onRelease with no key-identifying argument — only the fact and
// moment of a press or release.
type Source interface {
	Start(onPress, onRelease func()) error
	Stop()
}

// UnavailableSource is the default when no platform hook is wired into
// this build; Start reports CaptureUnavailable so the supervisor degrades
// gracefully instead of crashing (spec §7).
type UnavailableSource struct{}

func (UnavailableSource) Start(onPress, onRelease func()) error {
	return lberrors.New(lberrors.KindCaptureUnavailable, monitorName, "no keyboard hook implementation wired for this platform")
}
func (UnavailableSource) Stop() {}

// Config mirrors the spec's keyboard batch thresholds, but applied to raw
// press/release counts rather than emitted events: max_size or max_time_s
// since the previous stats flush, whichever comes first.
type Config struct {
	MaxEvents int
	MaxTimeS  float64
}

// DefaultConfig is the spec §4.7 default for keyboard: 128 or 1.5s.
func DefaultConfig() Config {
	return Config{MaxEvents: 128, MaxTimeS: 1.5}
}

// Monitor is the keyboard dynamics monitor. It owns its own raw-event
// threshold check (this package's Config) and hands the base only a
// single finished stats event per flush — the base's own batching is
// configured to emit that single event immediately.
type Monitor struct {
	base   *monitor.Base
	cfg    Config
	source Source
	sched  scheduler.Scheduler

	mu              sync.Mutex
	stats           stats
	lastKeyTime     float64
	haveLastKeyTime bool
	recentEvents    []float64
	flushHandle     scheduler.Handle
	started         bool
}

// New constructs a keyboard monitor. guardrailEnabled must reflect
// guardrails.no_global_text_keylogging; if false, construction fails with
// a GuardrailViolation and the monitor never starts (spec §4.8b, §7).
func New(sessionID string, sched scheduler.Scheduler, cfg Config, emit monitor.EmitFunc, source Source, guardrailEnabled bool) (*Monitor, error) {
	if !guardrailEnabled {
		return nil, lberrors.New(lberrors.KindGuardrailViolation, monitorName, "guardrails.no_global_text_keylogging must be true to start the keyboard monitor")
	}
	if source == nil {
		source = UnavailableSource{}
	}
	base := monitor.NewBase(monitorName, sessionID, sched, monitor.BatchConfig{MaxSize: 1, MaxTimeS: 1e9}, emit)
	return &Monitor{
		base:   base,
		cfg:    cfg,
		source: source,
		sched:  sched,
	}, nil
}

// Start launches the OS hook and arms the internal stats-flush timer.
func (m *Monitor) Start() error {
	m.base.Start()
	m.mu.Lock()
	m.started = true
	m.armTimerLocked()
	m.mu.Unlock()

	if err := m.source.Start(m.onPress, m.onRelease); err != nil {
		return err
	}
	return nil
}

// StartInlineForTests starts the monitor against a ManualScheduler
// without requiring a real OS hook to be wired.
func (m *Monitor) StartInlineForTests() error {
	return m.Start()
}

// Stop halts the OS hook, flushes any remaining stats, and stops the
// base.
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

// EmitKeydown records a press. Exposed for real hooks and for tests.
func (m *Monitor) EmitKeydown() { m.onPress() }

// EmitKeyup records a release. Exposed for real hooks and for tests.
func (m *Monitor) EmitKeyup() { m.onRelease() }

func (m *Monitor) onPress() {
	m.recordKeyEvent(true)
}

func (m *Monitor) onRelease() {
	m.recordKeyEvent(false)
}

func (m *Monitor) recordKeyEvent(isPress bool) {
	now := m.sched.Now()
	nowMS := now * 1000

	m.mu.Lock()
	if isPress {
		m.stats.keydownCount++
		if m.haveLastKeyTime {
			m.stats.intervals = append(m.stats.intervals, (now-m.lastKeyTime)*1000)
		}
		m.lastKeyTime = now
		m.haveLastKeyTime = true
		m.detectBurstLocked(nowMS)
	} else {
		m.stats.keyupCount++
	}
	shouldFlush := m.stats.total() >= m.cfg.MaxEvents
	m.mu.Unlock()

	if shouldFlush {
		m.flushStats()
	}
}

// detectBurstLocked counts a cluster of >= burstThresholdKeys presses
// within burstThresholdMS as a single burst, clearing the window on
// detection so the same cluster is never double-counted. Caller holds mu.
func (m *Monitor) detectBurstLocked(nowMS float64) {
	cutoff := nowMS - burstThresholdMS
	kept := m.recentEvents[:0]
	for _, t := range m.recentEvents {
		if t >= cutoff {
			kept = append(kept, t)
		}
	}
	kept = append(kept, nowMS)
	m.recentEvents = kept

	if len(m.recentEvents) >= burstThresholdKeys {
		m.stats.burstCount++
		m.recentEvents = nil
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

	if err := assertNoPlaintext(attrs); err != nil {
		panic(err) // guardrail violation: a plaintext leak must never be emitted
	}

	e, err := event.New("", 0, monitorName, "stats", event.SubjectNone, "")
	if err != nil {
		return
	}
	_ = m.base.Submit(e, attrs)
}

func assertNoPlaintext(attrs map[string]any) error {
	b, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("keyboard: marshal attrs for guardrail check: %w", err)
	}
	lower := strings.ToLower(string(b))
	for _, pattern := range forbiddenSubstrings {
		if strings.Contains(lower, pattern) {
			return lberrors.New(lberrors.KindGuardrailViolation, monitorName, "payload contains forbidden substring "+pattern)
		}
	}
	return nil
}
