// Package spool implements the crash-safe, segmented, gzip-compressed
// NDJSON journal every monitor's batches are written to (spec §4.5). A
// segment is append-only; finalization is flush→fsync→close→rename, and
// the recovery sweep (recovery.go) repairs anything left mid-write by a
// crash.
package spool

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/logctx"
)

// Config controls segment rotation. Sizes are uncompressed-line bytes
// written since the segment opened (cheap to track; the gzip stream is
// smaller but rotation only needs a consistent ceiling, not an exact one).
type Config struct {
	Dir             string
	SegmentMaxBytes int64
	SegmentMaxAge   time.Duration
}

// DefaultConfig returns sane rotation ceilings: 8 MiB or 5 minutes,
// whichever comes first.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SegmentMaxBytes: 8 << 20,
		SegmentMaxAge:   5 * time.Minute,
	}
}

// Spool owns one segment writer per monitor, created lazily on first
// write, and the directory layout under Config.Dir.
type Spool struct {
	mu      sync.Mutex
	cfg     Config
	writers map[string]*segmentWriter
}

// New constructs a Spool rooted at cfg.Dir.
func New(cfg Config) *Spool {
	return &Spool{cfg: cfg, writers: make(map[string]*segmentWriter)}
}

// WriteBatch appends an entire batch of events for one monitor as NDJSON
// lines to that monitor's segment, preserving batch order and atomicity:
// either every line in the batch lands in the spool, or none do.
func (s *Spool) WriteBatch(monitor string, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	lines := make([][]byte, 0, len(events))
	for _, e := range events {
		if e.Monitor != monitor {
			return fmt.Errorf("spool: event monitor %q does not match batch monitor %q", e.Monitor, monitor)
		}
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("spool: marshal event: %w", err)
		}
		lines = append(lines, b)
	}

	w := s.writerFor(monitor)
	if err := w.appendLines(lines); err != nil {
		return fmt.Errorf("spool: write batch for %s: %w", monitor, err)
	}
	return nil
}

func (s *Spool) writerFor(monitor string) *segmentWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[monitor]
	if !ok {
		w = newSegmentWriter(filepath.Join(s.cfg.Dir, monitor), monitor, s.cfg)
		s.writers[monitor] = w
	}
	return w
}

// FlushMonitor forces the named monitor's current segment to finalize
// immediately (explicit-flush-request trigger).
func (s *Spool) FlushMonitor(monitor string) error {
	return s.writerFor(monitor).Flush()
}

// Close finalizes every open segment across every monitor. Safe to call
// twice; the second call is a no-op per writer.
func (s *Spool) Close() error {
	s.mu.Lock()
	writers := make([]*segmentWriter, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	s.mu.Unlock()

	log := logctx.For("spool")
	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			log.Warn("error closing segment on shutdown", "monitor", w.monitor, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
