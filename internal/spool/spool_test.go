package spool

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/littlebro/lb3/internal/event"
)

func mkEvent(t *testing.T, monitor, action string, ts int64) *event.Event {
	t.Helper()
	e, err := event.New("id", ts, monitor, action, event.SubjectNone, "sess1")
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	return e
}

func readAllSegments(t *testing.T, monitorDir string) [][]byte {
	t.Helper()
	entries, err := os.ReadDir(monitorDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var lines [][]byte
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), finalSuffix) {
			continue
		}
		f, err := os.Open(filepath.Join(monitorDir, e.Name()))
		if err != nil {
			t.Fatalf("open %s: %v", e.Name(), err)
		}
		zr, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("gzip reader %s: %v", e.Name(), err)
		}
		scanner := bufio.NewScanner(zr)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			lines = append(lines, line)
		}
		zr.Close()
		f.Close()
	}
	return lines
}

func TestWriteBatchAndFlushProducesValidSegment(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	s := New(cfg)

	events := []*event.Event{
		mkEvent(t, "keyboard", "stats", 1000),
		mkEvent(t, "keyboard", "stats", 1001),
		mkEvent(t, "keyboard", "stats", 1002),
	}
	if err := s.WriteBatch("keyboard", events); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := s.FlushMonitor("keyboard"); err != nil {
		t.Fatalf("FlushMonitor: %v", err)
	}

	lines := readAllSegments(t, filepath.Join(dir, "keyboard"))
	if len(lines) != 3 {
		t.Fatalf("expected 3 decoded lines, got %d", len(lines))
	}
	for _, line := range lines {
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("line not valid JSON: %v (%s)", err, line)
		}
	}
}

func TestWriteBatchPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	s := New(DefaultConfig(dir))

	events := []*event.Event{
		mkEvent(t, "mouse", "a", 1),
		mkEvent(t, "mouse", "b", 2),
		mkEvent(t, "mouse", "c", 3),
	}
	if err := s.WriteBatch("mouse", events); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	s.FlushMonitor("mouse")

	lines := readAllSegments(t, filepath.Join(dir, "mouse"))
	want := []string{"a", "b", "c"}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, w := range want {
		var m map[string]any
		json.Unmarshal(lines[i], &m)
		if m["action"] != w {
			t.Fatalf("line %d action = %v, want %s", i, m["action"], w)
		}
	}
}

func TestWriteBatchRejectsMismatchedMonitor(t *testing.T) {
	dir := t.TempDir()
	s := New(DefaultConfig(dir))

	events := []*event.Event{mkEvent(t, "mouse", "a", 1)}
	if err := s.WriteBatch("keyboard", events); err == nil {
		t.Fatal("expected error for monitor mismatch")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(DefaultConfig(dir))
	s.WriteBatch("mouse", []*event.Event{mkEvent(t, "mouse", "a", 1)})

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEmptySegmentIsDiscardedNotFinalized(t *testing.T) {
	dir := t.TempDir()
	s := New(DefaultConfig(dir))
	// Never write anything, but force a writer into existence and close it.
	w := s.writerFor("mouse")
	if err := w.Close(); err != nil {
		t.Fatalf("Close on never-opened writer: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "mouse"))
	if entries != nil && len(entries) != 0 {
		t.Fatalf("expected no files for an empty segment, got %v", entries)
	}
}

func TestRotationOnSizeCeiling(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 50 // tiny, to force rotation quickly
	s := New(cfg)

	for i := 0; i < 20; i++ {
		events := []*event.Event{mkEvent(t, "mouse", "activity", int64(i))}
		if err := s.WriteBatch("mouse", events); err != nil {
			t.Fatalf("WriteBatch %d: %v", i, err)
		}
	}
	s.FlushMonitor("mouse")

	entries, err := os.ReadDir(filepath.Join(dir, "mouse"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	finalized := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), finalSuffix) {
			finalized++
		}
	}
	if finalized < 2 {
		t.Fatalf("expected rotation to produce multiple finalized segments, got %d", finalized)
	}
}

func TestRotationOnAgeCeiling(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxAge = 10 * time.Millisecond
	s := New(cfg)

	s.WriteBatch("mouse", []*event.Event{mkEvent(t, "mouse", "a", 1)})
	time.Sleep(20 * time.Millisecond)
	s.WriteBatch("mouse", []*event.Event{mkEvent(t, "mouse", "b", 2)})
	s.FlushMonitor("mouse")

	entries, _ := os.ReadDir(filepath.Join(dir, "mouse"))
	finalized := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), finalSuffix) {
			finalized++
		}
	}
	if finalized < 2 {
		t.Fatalf("expected age-based rotation to produce 2 segments, got %d", finalized)
	}
}

func TestAttrsJSONIsNotReescaped(t *testing.T) {
	dir := t.TempDir()
	s := New(DefaultConfig(dir))

	e := mkEvent(t, "keyboard", "stats", 1)
	if err := e.WithAttrs(map[string]any{"keydown": 5}); err != nil {
		t.Fatalf("WithAttrs: %v", err)
	}
	if err := s.WriteBatch("keyboard", []*event.Event{e}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	s.FlushMonitor("keyboard")

	lines := readAllSegments(t, filepath.Join(dir, "keyboard"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var m map[string]any
	if err := json.Unmarshal(lines[0], &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	attrsRaw, ok := m["attrs_json"].(string)
	if !ok {
		t.Fatalf("expected attrs_json to decode as a string field, got %T", m["attrs_json"])
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(attrsRaw), &attrs); err != nil {
		t.Fatalf("attrs_json did not contain valid nested JSON: %v", err)
	}
	if attrs["keydown"].(float64) != 5 {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
}
