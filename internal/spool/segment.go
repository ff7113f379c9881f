package spool

import (
	"bufio"
	"compress/gzip"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/littlebro/lb3/internal/logctx"
)

const (
	partSuffix  = ".part"
	finalSuffix = ".ndjson.gz"
)

// segmentWriter owns one monitor's currently-open segment. It is a
// singleton per monitor (spec §4.5.5): all writes for a monitor funnel
// through the same instance, serialized by mu.
type segmentWriter struct {
	mu sync.Mutex

	dir     string
	monitor string
	cfg     Config

	file      *os.File
	gz        *gzip.Writer
	buf       *bufio.Writer
	partPath  string
	openedAt  time.Time
	bytesOut  int64
	lineCount int
}

func newSegmentWriter(dir, monitor string, cfg Config) *segmentWriter {
	return &segmentWriter{dir: dir, monitor: monitor, cfg: cfg}
}

// appendLines writes a whole batch of NDJSON lines atomically with
// respect to rotation: either the entire batch lands in the currently
// open segment, or (if rotation is needed first) in a freshly opened one.
// No event is split across a sync boundary mid-line.
func (w *segmentWriter) appendLines(lines [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeededLocked(); err != nil {
		return fmt.Errorf("spool: rotate before append: %w", err)
	}
	if w.file == nil {
		if err := w.openLocked(); err != nil {
			return fmt.Errorf("spool: open segment: %w", err)
		}
	}

	for _, line := range lines {
		if err := w.writeLineLocked(line); err != nil {
			return err
		}
		w.bytesOut += int64(len(line)) + 1
		w.lineCount++
	}

	if err := w.syncLocked("flush", func() error {
		if err := w.buf.Flush(); err != nil {
			return err
		}
		return w.gz.Flush()
	}); err != nil {
		return err
	}
	if err := w.syncLocked("fsync", w.file.Sync); err != nil {
		return err
	}

	return w.rotateIfNeededLocked()
}

func (w *segmentWriter) writeLineLocked(line []byte) error {
	return w.syncLocked("write", func() error {
		if _, err := w.buf.Write(line); err != nil {
			return err
		}
		_, err := w.buf.Write([]byte("\n"))
		return err
	})
}

// syncLocked implements the SegmentIO disposition: local retry once, then
// finalize-if-possible and open a fresh segment, surfacing a warning but
// never losing already-synced data. Caller must hold mu.
func (w *segmentWriter) syncLocked(op string, do func() error) error {
	firstErr := do()
	if firstErr == nil {
		return nil
	}

	log := logctx.For("spool")
	log.Warn("segment io error, retrying once", "monitor", w.monitor, "op", op, "err", firstErr)

	if retryErr := do(); retryErr == nil {
		return nil
	} else {
		log.Warn("segment io failed twice, finalizing and opening fresh segment", "monitor", w.monitor, "op", op, "err", retryErr)
		_ = w.finalizeLocked()
		if openErr := w.openLocked(); openErr != nil {
			return fmt.Errorf("spool: reopen after io failure: %w", openErr)
		}
		return fmt.Errorf("spool: segment io failed on %s: %w", op, retryErr)
	}
}

func (w *segmentWriter) openLocked() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	name := segmentName(time.Now().UTC())
	path := filepath.Join(w.dir, name+partSuffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.gz = gzip.NewWriter(f)
	w.buf = bufio.NewWriter(w.gz)
	w.partPath = path
	w.openedAt = time.Now()
	w.bytesOut = 0
	w.lineCount = 0
	return nil
}

// rotateIfNeededLocked finalizes the current segment if it has crossed the
// size or age ceiling, so the caller can open (or let appendLines open) a
// fresh one. Caller must hold mu.
func (w *segmentWriter) rotateIfNeededLocked() error {
	if w.file == nil {
		return nil
	}
	if w.bytesOut >= w.cfg.SegmentMaxBytes || time.Since(w.openedAt) >= w.cfg.SegmentMaxAge {
		return w.finalizeLocked()
	}
	return nil
}

// finalizeLocked performs flush → fsync → close → rename. Prefers
// discarding empty segments over finalizing them. Idempotent: calling it
// when nothing is open is a no-op.
func (w *segmentWriter) finalizeLocked() error {
	if w.file == nil {
		return nil
	}

	partPath := w.partPath
	lineCount := w.lineCount

	var finalizeErr error
	if err := w.buf.Flush(); err != nil {
		finalizeErr = err
	}
	if err := w.gz.Close(); err != nil && finalizeErr == nil {
		finalizeErr = err
	}
	if err := w.file.Sync(); err != nil && finalizeErr == nil {
		finalizeErr = err
	}
	if err := w.file.Close(); err != nil && finalizeErr == nil {
		finalizeErr = err
	}

	w.file = nil
	w.gz = nil
	w.buf = nil
	w.partPath = ""

	if finalizeErr != nil {
		return finalizeErr
	}

	if lineCount == 0 {
		return os.Remove(partPath)
	}

	finalPath := partPath[:len(partPath)-len(partSuffix)] + finalSuffix
	return os.Rename(partPath, finalPath)
}

// Close finalizes the currently open segment, if any. Safe to call twice.
func (w *segmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalizeLocked()
}

// Flush forces rotation of the current segment regardless of size/age,
// used for explicit-flush-request and shutdown triggers.
func (w *segmentWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalizeLocked()
}

func segmentName(t time.Time) string {
	var r [3]byte
	_, _ = rand.Read(r[:])
	return fmt.Sprintf("%s-%s", t.Format("20060102-150405"), hex.EncodeToString(r[:]))
}
