// Package quota implements the spool's storage-quota controller (spec
// §4.6): tracks bytes used under the spool directory, classifies the
// state as normal/soft/hard, and enforces the back-pressure contract the
// spooler sink consumes before admitting a batch.
package quota

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/littlebro/lb3/internal/logctx"
)

// State is the quota controller's three-valued classification.
type State int

const (
	StateNormal State = iota
	StateSoft
	StateHard
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateSoft:
		return "soft"
	case StateHard:
		return "hard"
	default:
		return "unknown"
	}
}

// Config mirrors storage.spool_quota_mb / spool_soft_pct / spool_hard_pct.
type Config struct {
	QuotaMB        int64
	SoftPct        int
	HardPct        int
	DoneDir        string // the `_done/` eviction area
	LogIntervalSec float64
}

// DefaultConfig returns the spec's defaults: 512 MiB quota, 90% soft,
// 100% hard, re-log interval 60s.
func DefaultConfig(doneDir string) Config {
	return Config{QuotaMB: 512, SoftPct: 90, HardPct: 100, DoneDir: doneDir, LogIntervalSec: 60}
}

func (c Config) softBytes() int64 {
	return c.QuotaMB * 1024 * 1024 * int64(c.SoftPct) / 100
}

func (c Config) hardBytes() int64 {
	return c.QuotaMB * 1024 * 1024 * int64(c.HardPct) / 100
}

// Controller owns the byte-usage accounting and state machine. All
// counters are internally synchronized; diagnostics may read State()/
// UsedBytes() without additional locking from the caller's side.
type Controller struct {
	cfg Config

	mu        sync.Mutex
	usedBytes int64
	state     State

	droppedBatches uint64
	evictedBytes   uint64
	evictedFiles   uint64
	evicting       bool

	logLimiter *rate.Limiter
}

// New constructs a Controller seeded with the current on-disk usage under
// cfg.DoneDir (if it exists). A restart with the directory already over
// the soft threshold starts eviction immediately rather than waiting for
// the next admitted batch.
func New(cfg Config) *Controller {
	c := &Controller{
		cfg:        cfg,
		logLimiter: rate.NewLimiter(rate.Every(time.Duration(cfg.LogIntervalSec*float64(time.Second))), 1),
	}
	c.usedBytes = diskUsage(cfg.DoneDir)
	c.state = c.classify(c.usedBytes)
	c.maybeStartEviction()
	return c
}

// maybeStartEviction kicks off evictUntilBelowSoft in the background if
// the controller is over the soft threshold and no eviction is already
// running.
func (c *Controller) maybeStartEviction() {
	c.mu.Lock()
	needsEviction := c.state != StateNormal
	alreadyEvicting := c.evicting
	if needsEviction && !alreadyEvicting {
		c.evicting = true
	}
	c.mu.Unlock()
	if needsEviction && !alreadyEvicting {
		go c.evictUntilBelowSoft()
	}
}

func (c *Controller) classify(used int64) State {
	switch {
	case used >= c.cfg.hardBytes():
		return StateHard
	case used >= c.cfg.softBytes():
		return StateSoft
	default:
		return StateNormal
	}
}

// AdmitBatch applies the back-pressure contract for a batch of the given
// byte size. In hard state, it refuses the whole batch (returns false,
// incrementing DroppedBatches) without touching usedBytes, and makes sure
// eviction is running — a controller stuck in hard state purely through
// refusals must still work its way back down, per spec §4.6: "eviction
// continues until state falls to soft". In soft state it admits and
// triggers eviction asynchronously. In normal state it always admits.
func (c *Controller) AdmitBatch(sizeBytes int64) bool {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == StateHard {
		c.mu.Lock()
		c.droppedBatches++
		c.mu.Unlock()
		c.logTransition(state, "batch refused under hard quota")
		c.maybeStartEviction()
		return false
	}

	c.mu.Lock()
	c.usedBytes += sizeBytes
	newState := c.classify(c.usedBytes)
	changed := newState != c.state
	c.state = newState
	c.mu.Unlock()

	if changed {
		c.logTransition(newState, "admitted, crossed state boundary")
	}

	c.maybeStartEviction()
	return true
}

func (c *Controller) logTransition(state State, reason string) {
	if !c.logLimiter.Allow() {
		return
	}
	logctx.For("quota").Info("quota state", "state", state.String(), "reason", reason, "used", humanize.Bytes(uint64(c.UsedBytes())))
}

// evictUntilBelowSoft deletes the oldest finalized segments from
// cfg.DoneDir until usage falls back under the soft threshold, or nothing
// is left to evict. Lowest-value monitors first is left to the caller's
// directory layout convention; this walks DoneDir's files oldest-first by
// mtime regardless of monitor.
func (c *Controller) evictUntilBelowSoft() {
	log := logctx.For("quota")
	defer func() {
		c.mu.Lock()
		c.evicting = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		needsEviction := c.state != StateNormal
		c.mu.Unlock()
		if !needsEviction {
			return
		}

		victim, size, ok := oldestFile(c.cfg.DoneDir)
		if !ok {
			log.Warn("quota: nothing left to evict but still over soft threshold")
			return
		}
		if err := os.Remove(victim); err != nil {
			log.Warn("quota: failed to evict file", "err", err)
			return
		}

		c.mu.Lock()
		c.usedBytes -= size
		if c.usedBytes < 0 {
			c.usedBytes = 0
		}
		c.evictedBytes += uint64(size)
		c.evictedFiles++
		newState := c.classify(c.usedBytes)
		changed := newState != c.state
		c.state = newState
		c.mu.Unlock()

		if changed {
			c.logTransition(newState, "eviction crossed state boundary")
		}
		if newState == StateNormal {
			return
		}
	}
}

// State returns the current classification.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UsedBytes returns the current tracked usage.
func (c *Controller) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// Counters is a snapshot of the diagnostic counters (spec §4.6 Reporting).
type Counters struct {
	DroppedBatches uint64
	EvictedBytes   uint64
	EvictedFiles   uint64
	State          string
	UsedBytes      int64
}

// Snapshot returns the current counters for diagnostic consumers. It
// reports only monitor/file names implicitly via counts, never an
// absolute path.
func (c *Controller) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		DroppedBatches: c.droppedBatches,
		EvictedBytes:   c.evictedBytes,
		EvictedFiles:   c.evictedFiles,
		State:          c.state.String(),
		UsedBytes:      c.usedBytes,
	}
}

func diskUsage(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

func oldestFile(dir string) (path string, size int64, ok bool) {
	type candidate struct {
		path    string
		size    int64
		modTime time.Time
	}
	var all []candidate
	_ = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		all = append(all, candidate{path: p, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if len(all) == 0 {
		return "", 0, false
	}
	sort.Slice(all, func(i, j int) bool { return all[i].modTime.Before(all[j].modTime) })
	return all[0].path, all[0].size, true
}
