package mouse

import (
	"encoding/json"
	"testing"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/lberrors"
	"github.com/littlebro/lb3/internal/scheduler"
)

type collector struct {
	batches [][]*event.Event
}

func (c *collector) emit(batch []*event.Event) {
	c.batches = append(c.batches, batch)
}

func (c *collector) events() []*event.Event {
	var all []*event.Event
	for _, b := range c.batches {
		all = append(all, b...)
	}
	return all
}

func attrsOf(t *testing.T, e *event.Event) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(e.AttrsJSON), &m); err != nil {
		t.Fatalf("unmarshal attrs: %v", err)
	}
	return m
}

func TestRecordMoveAccumulatesDistance(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	m := New("sess-1", sched, Config{MaxEvents: 1000, MaxTimeS: 1000}, c.emit, UnavailableSource{})
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.EmitMove(0, 0)
	m.EmitMove(3, 4)
	m.Stop()

	events := c.events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	attrs := attrsOf(t, events[0])
	if int(attrs["moves"].(float64)) != 2 {
		t.Fatalf("expected moves=2, got %v", attrs["moves"])
	}
	if int(attrs["distance_px"].(float64)) != 5 {
		t.Fatalf("expected distance_px=5, got %v", attrs["distance_px"])
	}
}

func TestClickCountsByButton(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	m := New("sess-1", sched, Config{MaxEvents: 1000, MaxTimeS: 1000}, c.emit, UnavailableSource{})
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.EmitClick("left", true)
	m.EmitClick("left", false) // release, must not count
	m.EmitClick("right", true)
	m.EmitClick("middle", true)
	m.Stop()

	attrs := attrsOf(t, c.events()[0])
	if int(attrs["click_left"].(float64)) != 1 {
		t.Fatalf("expected click_left=1, got %v", attrs["click_left"])
	}
	if int(attrs["click_right"].(float64)) != 1 {
		t.Fatalf("expected click_right=1, got %v", attrs["click_right"])
	}
	if int(attrs["click_middle"].(float64)) != 1 {
		t.Fatalf("expected click_middle=1, got %v", attrs["click_middle"])
	}
}

func TestScrollCountsNonZeroTicksOnly(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	m := New("sess-1", sched, Config{MaxEvents: 1000, MaxTimeS: 1000}, c.emit, UnavailableSource{})
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.EmitScroll(0, 1)
	m.EmitScroll(0, 0) // no-op tick, must not count
	m.EmitScroll(1, 0)
	m.Stop()

	attrs := attrsOf(t, c.events()[0])
	if int(attrs["scroll"].(float64)) != 2 {
		t.Fatalf("expected scroll=2, got %v", attrs["scroll"])
	}
}

func TestFlushOnSizeThreshold(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	m := New("sess-1", sched, Config{MaxEvents: 3, MaxTimeS: 1000}, c.emit, UnavailableSource{})
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.EmitMove(1, 1)
	m.EmitMove(2, 2)
	m.EmitMove(3, 3)

	if len(c.events()) != 1 {
		t.Fatalf("expected flush at size threshold, got %d events", len(c.events()))
	}
}

func TestFlushOnTimeThreshold(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	m := New("sess-1", sched, Config{MaxEvents: 1000, MaxTimeS: 1.5}, c.emit, UnavailableSource{})
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.EmitMove(1, 1)
	if len(c.events()) != 0 {
		t.Fatal("expected no flush before timer fires")
	}
	sched.Advance(1.6)
	if len(c.events()) != 1 {
		t.Fatalf("expected flush after timer fires, got %d", len(c.events()))
	}
}

func TestStopWithNoActivityEmitsNothing(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	m := New("sess-1", sched, Config{MaxEvents: 1000, MaxTimeS: 1000}, c.emit, UnavailableSource{})
	if err := m.StartInlineForTests(); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
	if len(c.events()) != 0 {
		t.Fatalf("expected no flush with no activity, got %d", len(c.events()))
	}
}

func TestUnavailableSourceReportsCaptureUnavailable(t *testing.T) {
	sched := scheduler.NewManual()
	c := &collector{}
	m := New("sess-1", sched, DefaultConfig(), c.emit, nil)
	err := m.Start()
	if err == nil {
		t.Fatal("expected capture unavailable error")
	}
	if lbErr, ok := err.(*lberrors.Error); !ok || lbErr.Kind != lberrors.KindCaptureUnavailable {
		t.Fatalf("expected KindCaptureUnavailable, got %v", err)
	}
	m.Stop()
}
