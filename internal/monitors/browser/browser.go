// Package browser implements the browser tab-activity monitor (spec
// §4.8e): a Chrome DevTools Protocol client as the primary source, falling
// back to a restricted active-window-style observation when no devtools
// endpoint is reachable.
package browser

import (
	"sync"

	"github.com/littlebro/lb3/internal/bus"
	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/hashutil"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const monitorName = "browser"

// dedupWindowS is the fallback mode's repeated-(exe,title_hash) suppression
// window (spec §4.8e fallback).
const dedupWindowS = 5.0

// knownBrowserExes is the closed set of executable names the fallback
// mode treats as browsers; window_change events from any other process are
// ignored in fallback mode.
var knownBrowserExes = map[string]bool{
	"chrome":      true,
	"chrome.exe":  true,
	"msedge":      true,
	"msedge.exe":  true,
	"firefox":     true,
	"firefox.exe": true,
	"safari":      true,
	"brave":       true,
	"brave.exe":   true,
}

// Config controls the monitor.Base batch the browser monitor flushes
// through; spec §4.7 default is 50 events or 2.0s.
type Config struct {
	MaxEvents int
	MaxTimeS  float64
}

func DefaultConfig() Config {
	return Config{MaxEvents: 50, MaxTimeS: 2.0}
}

// Monitor emits browser/{tab_open,tab_close,nav} from a live CDP
// connection when one is available, or browser/tab_switch from
// active_window bus events otherwise.
type Monitor struct {
	base   *monitor.Base
	cdp    CDPSource
	b      *bus.Bus
	hasher *hashutil.Hasher
	dims   monitor.DimensionStore
	sched  scheduler.Scheduler

	mu       sync.Mutex
	mode     string             // "cdp" or "fallback"
	lastSeen map[string]float64 // "exe|titleHash" -> last emit time, fallback dedup
	started  bool
}

// New constructs a browser monitor. dims may be nil, in which case an
// in-memory store is used. cdp may be nil, in which case CDP is treated as
// unavailable and fallback mode is used unconditionally.
func New(sessionID string, sched scheduler.Scheduler, cfg Config, emit monitor.EmitFunc, cdp CDPSource, b *bus.Bus, hasher *hashutil.Hasher, dims monitor.DimensionStore) *Monitor {
	if cdp == nil {
		cdp = UnavailableCDPSource{}
	}
	if dims == nil {
		dims = monitor.NewMemoryDimensionStore()
	}
	base := monitor.NewBase(monitorName, sessionID, sched, monitor.BatchConfig{MaxSize: cfg.MaxEvents, MaxTimeS: cfg.MaxTimeS}, emit)
	return &Monitor{
		base:     base,
		cdp:      cdp,
		b:        b,
		hasher:   hasher,
		dims:     dims,
		sched:    sched,
		lastSeen: make(map[string]float64),
	}
}

func (m *Monitor) Start() error {
	m.base.Start()

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	if m.cdp.Available() {
		if err := m.cdp.Start(m.onTargetEvent); err == nil {
			m.mu.Lock()
			m.mode = "cdp"
			m.mu.Unlock()
			return nil
		}
	}

	m.mu.Lock()
	m.mode = "fallback"
	m.mu.Unlock()
	if m.b != nil {
		m.b.Subscribe(m.handleBusEvent)
		m.b.Start()
	}
	return nil
}

func (m *Monitor) StartInlineForTests() error {
	return m.Start()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	mode := m.mode
	m.started = false
	m.mu.Unlock()
	if mode == "cdp" {
		m.cdp.Stop()
	}
	m.base.Stop()
}

// Mode reports which observation path is currently active ("cdp" or
// "fallback"), for diagnostics.
func (m *Monitor) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// onTargetEvent translates a CDP TargetEvent into a browser/{tab_open,
// tab_close,nav} event (spec §4.8e primary mode).
func (m *Monitor) onTargetEvent(te TargetEvent) {
	var action string
	switch te.Kind {
	case "created":
		action = "tab_open"
	case "destroyed":
		action = "tab_close"
	case "changed":
		action = "nav"
	default:
		return
	}

	var urlHash, domainHash string
	if m.hasher != nil {
		var err error
		urlHash, domainHash, err = m.hasher.HashURL(te.URL)
		if err != nil {
			return
		}
	}

	urlID, err := m.dims.UpsertURL(urlHash, domainHash)
	if err != nil {
		return
	}

	e, err := event.New("", 0, monitorName, action, event.SubjectURL, "")
	if err != nil {
		return
	}
	e.SubjectID = urlID
	e.URLHash = urlHash

	attrs := map[string]any{
		"source":        "cdp",
		"target_id":     te.TargetID,
		"domain_hash":   domainHash,
		"title_present": te.Title != "",
	}
	_ = m.base.Submit(e, attrs)
}

// handleBusEvent is the fallback mode's bus subscription: it watches
// active_window window_change events and, for a recognized browser
// executable, emits a deduplicated tab_switch with no URL (spec §4.8e
// fallback; SPEC_FULL.md §D.4 reuses active_window's dedup-cache shape).
func (m *Monitor) handleBusEvent(e *event.Event) {
	if e.Monitor != "active_window" || e.Action != "window_change" {
		return
	}
	if !knownBrowserExes[e.ExeName] {
		return
	}

	key := e.ExeName + "|" + e.WindowTitleHash
	now := m.sched.Now()

	m.mu.Lock()
	last, seen := m.lastSeen[key]
	if seen && now-last < dedupWindowS {
		m.mu.Unlock()
		return
	}
	m.lastSeen[key] = now
	m.mu.Unlock()

	out, err := event.New("", 0, monitorName, "tab_switch", event.SubjectURL, "")
	if err != nil {
		return
	}
	out.PID = e.PID
	out.ExeName = e.ExeName

	attrs := map[string]any{
		"source":               "fallback",
		"exe_name":             e.ExeName,
		"window_title_present": e.WindowTitleHash != "",
		"window_title_hash":    e.WindowTitleHash,
	}
	_ = m.base.Submit(out, attrs)
}
