package monitor

import (
	"sync"
	"testing"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/scheduler"
)

func newTestEvent(t *testing.T) *event.Event {
	t.Helper()
	e, err := event.New("", 0, "", "stats", event.SubjectNone, "")
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	return e
}

type collector struct {
	mu      sync.Mutex
	batches [][]*event.Event
}

func (c *collector) emit(batch []*event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*event.Event, len(batch))
	copy(cp, batch)
	c.batches = append(c.batches, cp)
}

func (c *collector) totalEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestSubmitEnrichesMissingFields(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("keyboard", "sess1", sched, BatchConfig{MaxSize: 128, MaxTimeS: 1.5}, col.emit)
	b.StartInlineForTests()
	defer b.Stop()

	e := newTestEvent(t)
	if err := b.Submit(e, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected id to be filled in")
	}
	if e.TsUTC == 0 {
		t.Fatal("expected ts_utc to be filled in")
	}
	if e.Monitor != "keyboard" {
		t.Fatalf("expected monitor=keyboard, got %s", e.Monitor)
	}
	if e.SessionID != "sess1" {
		t.Fatalf("expected session_id=sess1, got %s", e.SessionID)
	}
}

func TestSubmitRejectsMissingAction(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("keyboard", "sess1", sched, BatchConfig{MaxSize: 128, MaxTimeS: 1.5}, col.emit)
	b.StartInlineForTests()
	defer b.Stop()

	e, _ := event.New("", 0, "", "", event.SubjectNone, "")
	e.Action = ""
	if err := b.Submit(e, nil); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestSubmitRejectsMonitorMismatch(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("keyboard", "sess1", sched, BatchConfig{MaxSize: 128, MaxTimeS: 1.5}, col.emit)
	b.StartInlineForTests()
	defer b.Stop()

	e := newTestEvent(t)
	e.Monitor = "mouse"
	if err := b.Submit(e, nil); err == nil {
		t.Fatal("expected error for monitor field mismatch")
	}
}

// TestScenarioS1SizeThenTimeBatching mirrors spec scenario S1: with
// max_size=128, max_time_s=1.5, 128 events flush immediately on size;
// after reset, 3 events flush only once 1.5s elapses.
func TestScenarioS1SizeThenTimeBatching(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("keyboard", "sess1", sched, BatchConfig{MaxSize: 128, MaxTimeS: 1.5}, col.emit)
	b.StartInlineForTests()
	defer b.Stop()

	for i := 0; i < 128; i++ {
		if err := b.Submit(newTestEvent(t), nil); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	if len(col.batches) != 1 {
		t.Fatalf("expected exactly 1 batch after reaching max_size, got %d", len(col.batches))
	}
	if len(col.batches[0]) != 128 {
		t.Fatalf("expected batch of 128, got %d", len(col.batches[0]))
	}

	// Reset and inject 3 presses, then wait 1.6s.
	col.batches = nil
	for i := 0; i < 3; i++ {
		b.Submit(newTestEvent(t), nil)
	}
	sched.Advance(1.6)

	if len(col.batches) != 1 {
		t.Fatalf("expected exactly 1 time-triggered batch, got %d", len(col.batches))
	}
	if len(col.batches[0]) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(col.batches[0]))
	}
}

func TestTimeBasedFlushRearmsOnFire(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("mouse", "sess1", sched, BatchConfig{MaxSize: 1000, MaxTimeS: 1.0}, col.emit)
	b.StartInlineForTests()
	defer b.Stop()

	b.Submit(newTestEvent(t), nil)
	sched.Advance(1.0)
	if len(col.batches) != 1 {
		t.Fatalf("expected 1 batch after first interval, got %d", len(col.batches))
	}

	b.Submit(newTestEvent(t), nil)
	sched.Advance(1.0)
	if len(col.batches) != 2 {
		t.Fatalf("expected 2 batches after second interval, got %d", len(col.batches))
	}
}

func TestSizeFlushCancelsAndRearmsTimer(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("mouse", "sess1", sched, BatchConfig{MaxSize: 2, MaxTimeS: 1.0}, col.emit)
	b.StartInlineForTests()
	defer b.Stop()

	b.Submit(newTestEvent(t), nil)
	b.Submit(newTestEvent(t), nil) // triggers size flush, rearms timer
	if len(col.batches) != 1 {
		t.Fatalf("expected size-triggered flush, got %d batches", len(col.batches))
	}

	// If the timer hadn't rearmed, this advance would be a no-op; if it
	// did rearm from the flush point, nothing should fire before 1.0s
	// more elapses from here.
	sched.Advance(0.5)
	if len(col.batches) != 1 {
		t.Fatalf("expected no additional flush yet, got %d batches", len(col.batches))
	}
	sched.Advance(0.5)
	// Empty batch at this point: emitBatch is a no-op for zero-length
	// batches, so no new batch should appear.
	if len(col.batches) != 1 {
		t.Fatalf("expected empty time-flush to produce no batch, got %d", len(col.batches))
	}
}

func TestStopFlushesRemainingBatch(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("mouse", "sess1", sched, BatchConfig{MaxSize: 1000, MaxTimeS: 1000}, col.emit)
	b.StartInlineForTests()

	b.Submit(newTestEvent(t), nil)
	b.Submit(newTestEvent(t), nil)
	b.Stop()

	if col.totalEvents() != 2 {
		t.Fatalf("expected stop to flush remaining batch, got %d events", col.totalEvents())
	}
}

func TestSubmitBeforeStartErrors(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("mouse", "sess1", sched, BatchConfig{MaxSize: 10, MaxTimeS: 1}, col.emit)
	if err := b.Submit(newTestEvent(t), nil); err == nil {
		t.Fatal("expected error submitting before start")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("mouse", "sess1", sched, BatchConfig{MaxSize: 10, MaxTimeS: 1}, col.emit)
	b.StartInlineForTests()
	b.Stop()
	b.Stop() // must not panic
}

func TestSubmitWithAttrsFreezesAttrsJSON(t *testing.T) {
	sched := scheduler.NewManual()
	col := &collector{}
	b := NewBase("keyboard", "sess1", sched, BatchConfig{MaxSize: 1000, MaxTimeS: 1000}, col.emit)
	b.StartInlineForTests()
	defer b.Stop()

	e := newTestEvent(t)
	if err := b.Submit(e, map[string]any{"keydown": 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if e.AttrsJSON != `{"keydown":1}` {
		t.Fatalf("unexpected attrs_json: %s", e.AttrsJSON)
	}
}
