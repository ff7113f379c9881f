// Package filewatch implements the file-system watch monitor (spec
// §4.8f): a configured set of paths is observed for create/write/remove
// activity, each emitted as file/{created,modified,deleted} carrying only
// a hashed path.
package filewatch

import (
	"sync"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/hashutil"
	"github.com/littlebro/lb3/internal/lberrors"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const monitorName = "file"

// WatchEvent is a normalized filesystem notification, translated from
// whatever the underlying watcher library reports.
type WatchEvent struct {
	Op   string // "create", "write", "remove", "rename"
	Path string
}

// Watcher observes a set of filesystem paths and reports WatchEvents.
type Watcher interface {
	Add(path string) error
	Start(onEvent func(WatchEvent)) error
	Stop() error
}

// UnavailableWatcher is the default when no filesystem watcher is wired.
type UnavailableWatcher struct{}

func (UnavailableWatcher) Add(path string) error { return nil }
func (UnavailableWatcher) Start(onEvent func(WatchEvent)) error {
	return lberrors.New(lberrors.KindCaptureUnavailable, monitorName, "no filesystem watcher implementation wired")
}
func (UnavailableWatcher) Stop() error { return nil }

// Config controls the monitor.Base batch this monitor flushes through;
// spec §4.7 default is 100 events or 5.0s.
type Config struct {
	Paths     []string
	MaxEvents int
	MaxTimeS  float64
}

func DefaultConfig(paths []string) Config {
	return Config{Paths: paths, MaxEvents: 100, MaxTimeS: 5.0}
}

// Monitor watches cfg.Paths and emits one file/{created,modified,deleted}
// event per underlying filesystem notification.
type Monitor struct {
	base    *monitor.Base
	watcher Watcher
	hasher  *hashutil.Hasher
	paths   []string

	mu      sync.Mutex
	started bool
}

// New constructs a file-watch monitor. watcher may be nil, in which case
// the monitor reports CaptureUnavailable on Start.
func New(sessionID string, sched scheduler.Scheduler, cfg Config, emit monitor.EmitFunc, watcher Watcher, hasher *hashutil.Hasher) *Monitor {
	if watcher == nil {
		watcher = UnavailableWatcher{}
	}
	base := monitor.NewBase(monitorName, sessionID, sched, monitor.BatchConfig{MaxSize: cfg.MaxEvents, MaxTimeS: cfg.MaxTimeS}, emit)
	return &Monitor{
		base:    base,
		watcher: watcher,
		hasher:  hasher,
		paths:   cfg.Paths,
	}
}

func (m *Monitor) Start() error {
	m.base.Start()

	for _, p := range m.paths {
		if err := m.watcher.Add(p); err != nil {
			return lberrors.Wrap(lberrors.KindCaptureUnavailable, monitorName, "watch path", err)
		}
	}
	if err := m.watcher.Start(m.onWatchEvent); err != nil {
		return err
	}

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *Monitor) StartInlineForTests() error {
	return m.Start()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	_ = m.watcher.Stop()
	m.base.Stop()
}

// onWatchEvent translates a raw WatchEvent into a file/{created,modified,
// deleted} event. "rename" is treated as a deletion at the old path: the
// file no longer exists there, and fsnotify reports the new path (if any)
// as a separate create at its destination.
func (m *Monitor) onWatchEvent(we WatchEvent) {
	var action string
	switch we.Op {
	case "create":
		action = "created"
	case "write":
		action = "modified"
	case "remove", "rename":
		action = "deleted"
	default:
		return
	}

	pathHash := ""
	if m.hasher != nil {
		var err error
		pathHash, err = m.hasher.Hash(we.Path, hashutil.PurposeFilePath)
		if err != nil {
			return
		}
	}

	e, err := event.New("", 0, monitorName, action, event.SubjectFile, "")
	if err != nil {
		return
	}
	e.FilePathHash = pathHash

	_ = m.base.Submit(e, map[string]any{"source": "fsnotify"})
}
