// Package activewindow implements the foreground-window identity monitor
// (spec §4.8a): hashed title/exe-path, a stable app_id/window_id pair, and
// a confirmation poll layered over an OS-level foreground-change hook.
package activewindow

import (
	"sync"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/hashutil"
	"github.com/littlebro/lb3/internal/lberrors"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const (
	monitorName = "active_window"
	// pollIntervalS is the confirmation poll cadence; spec §4.8a specifies
	// 1.0-1.5s, the original implementation uses 1.2s exactly.
	pollIntervalS = 1.2
)

// Snapshot is the raw, unhashed window identity read from the OS. It never
// crosses a channel boundary beyond this package.
type Snapshot struct {
	HWND    *int64
	Title   string
	ExeName string
	ExePath string
	PID     *int
}

// Source reads the current foreground window. Current is called on every
// poll tick; OnForegroundChange, if the platform supports an event hook,
// is called as soon as possible after a change (the poll still confirms
// afterward — spec §4.8a's "hook+poll" disposition).
type Source interface {
	Start(onForegroundChange func()) error
	Stop()
	Current() (Snapshot, error)
}

// UnavailableSource is the default when no platform hook exists.
type UnavailableSource struct{}

func (UnavailableSource) Start(onForegroundChange func()) error {
	return lberrors.New(lberrors.KindCaptureUnavailable, monitorName, "no foreground-window hook implementation wired for this platform")
}
func (UnavailableSource) Stop() {}
func (UnavailableSource) Current() (Snapshot, error) {
	return Snapshot{}, lberrors.New(lberrors.KindCaptureUnavailable, monitorName, "no foreground-window source available")
}

// Monitor polls/hooks the foreground window, hashes its identity, and
// emits a window_change event whenever the identity tuple
// (hwnd, title_hash, exe_path_hash, pid) differs from the last emission.
type Monitor struct {
	base   *monitor.Base
	source Source
	hasher *hashutil.Hasher
	dims   monitor.DimensionStore
	sched  scheduler.Scheduler

	mu          sync.Mutex
	last        *identity
	flushHandle scheduler.Handle
	started     bool
}

type identity struct {
	hwnd        *int64
	titleHash   string
	exePathHash string
	pid         *int
}

func (a *identity) equal(b *identity) bool {
	if a == nil || b == nil {
		return false
	}
	if (a.hwnd == nil) != (b.hwnd == nil) {
		return false
	}
	if a.hwnd != nil && *a.hwnd != *b.hwnd {
		return false
	}
	if (a.pid == nil) != (b.pid == nil) {
		return false
	}
	if a.pid != nil && *a.pid != *b.pid {
		return false
	}
	return a.titleHash == b.titleHash && a.exePathHash == b.exePathHash
}

// New constructs an active-window monitor. dims may be nil, in which case
// an in-memory store is used.
func New(sessionID string, sched scheduler.Scheduler, emit monitor.EmitFunc, source Source, hasher *hashutil.Hasher, dims monitor.DimensionStore) *Monitor {
	if source == nil {
		source = UnavailableSource{}
	}
	if dims == nil {
		dims = monitor.NewMemoryDimensionStore()
	}
	base := monitor.NewBase(monitorName, sessionID, sched, monitor.BatchConfig{MaxSize: 1, MaxTimeS: 1e9}, emit)
	return &Monitor{
		base:   base,
		source: source,
		hasher: hasher,
		dims:   dims,
		sched:  sched,
	}
}

func (m *Monitor) Start() error {
	m.base.Start()
	m.mu.Lock()
	m.started = true
	m.armTimerLocked()
	m.mu.Unlock()

	if err := m.source.Start(m.onForegroundChange); err != nil {
		return err
	}
	m.checkNow()
	return nil
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
	m.base.Stop()
}

func (m *Monitor) armTimerLocked() {
	m.flushHandle = m.sched.CallLater(pollIntervalS, m.onPollTick)
}

func (m *Monitor) onPollTick() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.armTimerLocked()
	m.mu.Unlock()
	m.checkNow()
}

func (m *Monitor) onForegroundChange() {
	m.checkNow()
}

// checkNow reads the current window and, if its identity differs from the
// last emission, upserts dimensions and emits a window_change event.
func (m *Monitor) checkNow() {
	snap, err := m.source.Current()
	if err != nil {
		return
	}

	titleHash := ""
	if snap.Title != "" && m.hasher != nil {
		titleHash, _ = m.hasher.Hash(snap.Title, hashutil.PurposeWindowTitle)
	}
	exePathHash := ""
	if snap.ExePath != "" && m.hasher != nil {
		exePathHash, _ = m.hasher.Hash(snap.ExePath, hashutil.PurposeExePath)
	}

	current := &identity{hwnd: snap.HWND, titleHash: titleHash, exePathHash: exePathHash, pid: snap.PID}

	m.mu.Lock()
	changed := !current.equal(m.last)
	if changed {
		m.last = current
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	appID, err := m.dims.UpsertApp(exePathHash, snap.ExeName)
	if err != nil {
		return
	}
	windowID, err := m.dims.UpsertWindow(appID, titleHash)
	if err != nil {
		return
	}

	e, err := event.New("", 0, monitorName, "window_change", event.SubjectWindow, "")
	if err != nil {
		return
	}
	e.SubjectID = windowID
	e.PID = snap.PID
	e.ExeName = snap.ExeName
	e.ExePathHash = exePathHash
	e.WindowTitleHash = titleHash

	attrs := map[string]any{
		"source": "hook+poll",
		"app_id": appID,
	}
	if snap.HWND != nil {
		attrs["hwnd"] = *snap.HWND
	} else {
		attrs["hwnd"] = nil
	}

	_ = m.base.Submit(e, attrs)
}
