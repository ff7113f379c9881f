package activewindow

import (
	"encoding/json"
	"testing"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/hashutil"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/scheduler"
)

const testSalt = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

type collector struct {
	batches [][]*event.Event
}

func (c *collector) emit(batch []*event.Event) { c.batches = append(c.batches, batch) }
func (c *collector) events() []*event.Event {
	var all []*event.Event
	for _, b := range c.batches {
		all = append(all, b...)
	}
	return all
}

// fakeSource lets tests push snapshots synchronously without an OS hook.
type fakeSource struct {
	current            Snapshot
	onForegroundChange func()
}

func (f *fakeSource) Start(onForegroundChange func()) error {
	f.onForegroundChange = onForegroundChange
	return nil
}
func (f *fakeSource) Stop() {}
func (f *fakeSource) Current() (Snapshot, error) { return f.current, nil }
func (f *fakeSource) set(snap Snapshot) {
	f.current = snap
	if f.onForegroundChange != nil {
		f.onForegroundChange()
	}
}

func intPtr(v int) *int      { return &v }
func hwndPtr(v int64) *int64 { return &v }

func newHasher(t *testing.T) *hashutil.Hasher {
	t.Helper()
	h, err := hashutil.New(testSalt)
	if err != nil {
		t.Fatalf("hashutil.New: %v", err)
	}
	return h
}

func TestEmitsOnFirstWindow(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	src := &fakeSource{current: Snapshot{HWND: hwndPtr(1), Title: "Terminal", ExeName: "bash", ExePath: "/bin/bash", PID: intPtr(100)}}
	m := New("sess-1", sched, c.emit, src, newHasher(t), nil)
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(c.events()) != 1 {
		t.Fatalf("expected 1 event on first window, got %d", len(c.events()))
	}
}

func TestNoEmitWhenUnchanged(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	src := &fakeSource{current: Snapshot{HWND: hwndPtr(1), Title: "Terminal", ExeName: "bash", ExePath: "/bin/bash", PID: intPtr(100)}}
	m := New("sess-1", sched, c.emit, src, newHasher(t), nil)
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}
	sched.Advance(1.2)
	sched.Advance(1.2)
	if len(c.events()) != 1 {
		t.Fatalf("expected only 1 event across repeated polls of the same window, got %d", len(c.events()))
	}
}

func TestEmitsOnTitleChange(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	src := &fakeSource{current: Snapshot{HWND: hwndPtr(1), Title: "Terminal", ExeName: "bash", ExePath: "/bin/bash", PID: intPtr(100)}}
	m := New("sess-1", sched, c.emit, src, newHasher(t), nil)
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.set(Snapshot{HWND: hwndPtr(1), Title: "Editor", ExeName: "bash", ExePath: "/bin/bash", PID: intPtr(100)})
	if len(c.events()) != 2 {
		t.Fatalf("expected 2 events after title change, got %d", len(c.events()))
	}
}

func TestStableWindowIDAcrossRepeatedVisits(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	dims := monitor.NewMemoryDimensionStore()
	src := &fakeSource{current: Snapshot{HWND: hwndPtr(1), Title: "A", ExeName: "x", ExePath: "/bin/x", PID: intPtr(1)}}
	m := New("sess-1", sched, c.emit, src, newHasher(t), dims)
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.set(Snapshot{HWND: hwndPtr(2), Title: "B", ExeName: "y", ExePath: "/bin/y", PID: intPtr(2)})
	src.set(Snapshot{HWND: hwndPtr(1), Title: "A", ExeName: "x", ExePath: "/bin/x", PID: intPtr(1)})

	events := c.events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].SubjectID != events[2].SubjectID {
		t.Fatalf("expected same window_id on revisit: %s vs %s", events[0].SubjectID, events[2].SubjectID)
	}
}

func TestAttrsContainAppIDAndHwnd(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	src := &fakeSource{current: Snapshot{HWND: hwndPtr(42), Title: "T", ExeName: "e", ExePath: "/bin/e", PID: intPtr(9)}}
	m := New("sess-1", sched, c.emit, src, newHasher(t), nil)
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var attrs map[string]any
	if err := json.Unmarshal([]byte(c.events()[0].AttrsJSON), &attrs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if attrs["source"] != "hook+poll" {
		t.Fatalf("expected source=hook+poll, got %v", attrs["source"])
	}
	if attrs["app_id"] == "" || attrs["app_id"] == nil {
		t.Fatal("expected non-empty app_id")
	}
	if int(attrs["hwnd"].(float64)) != 42 {
		t.Fatalf("expected hwnd=42, got %v", attrs["hwnd"])
	}
}

func TestNoPlaintextTitleOrPathOnEvent(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	src := &fakeSource{current: Snapshot{HWND: hwndPtr(1), Title: "Secret Document.docx", ExeName: "word", ExePath: "/usr/bin/word", PID: intPtr(1)}}
	m := New("sess-1", sched, c.emit, src, newHasher(t), nil)
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}
	e := c.events()[0]
	if e.WindowTitleHash == "Secret Document.docx" {
		t.Fatal("title hash must not equal the plaintext title")
	}
	b, _ := json.Marshal(e)
	if contains(string(b), "Secret Document") {
		t.Fatal("serialized event must not contain the plaintext title")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
