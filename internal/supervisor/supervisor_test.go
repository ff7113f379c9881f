package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeMonitor struct {
	mu        sync.Mutex
	startErr  error
	startedAt time.Time
	stopped   bool
	stopDelay time.Duration
}

func (f *fakeMonitor) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedAt = time.Now()
	return f.startErr
}

func (f *fakeMonitor) Stop() {
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeMonitor) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func runAndSignalDone(t *testing.T, s *Supervisor) {
	t.Helper()
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.NotifyComplete()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestAllMonitorsStartAndStopOnNaturalCompletion(t *testing.T) {
	s := New(nil, nil)
	a := &fakeMonitor{}
	b := &fakeMonitor{}
	s.Register("a", a)
	s.Register("b", b)

	runAndSignalDone(t, s)

	if !a.wasStopped() || !b.wasStopped() {
		t.Fatal("expected both monitors to be stopped")
	}
	if len(s.Started()) != 2 {
		t.Fatalf("expected 2 started monitors, got %d", len(s.Started()))
	}
	if len(s.Failures()) != 0 {
		t.Fatalf("expected no failures, got %v", s.Failures())
	}
}

func TestFailedMonitorDoesNotAbortOthers(t *testing.T) {
	s := New(nil, nil)
	bad := &fakeMonitor{startErr: errors.New("capture unavailable")}
	good := &fakeMonitor{}
	s.Register("bad", bad)
	s.Register("good", good)

	runAndSignalDone(t, s)

	if good.startedAt.IsZero() {
		t.Fatal("expected good monitor to start despite bad monitor's failure")
	}
	failures := s.Failures()
	if len(failures) != 1 || failures[0].Name != "bad" {
		t.Fatalf("expected one recorded failure for 'bad', got %v", failures)
	}
	started := s.Started()
	if len(started) != 1 || started[0] != "good" {
		t.Fatalf("expected only 'good' in Started(), got %v", started)
	}
	if !good.wasStopped() {
		t.Fatal("expected the successfully started monitor to be stopped")
	}
}

func TestShutdownStopsInReverseOrder(t *testing.T) {
	s := New(nil, nil)
	var order []string
	var mu sync.Mutex
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	first := &orderedMonitor{onStop: record("first")}
	second := &orderedMonitor{onStop: record("second")}
	s.Register("first", first)
	s.Register("second", second)

	runAndSignalDone(t, s)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse stop order [second first], got %v", order)
	}
}

type orderedMonitor struct {
	onStop func()
}

func (o *orderedMonitor) Start() error { return nil }
func (o *orderedMonitor) Stop()        { o.onStop() }

func TestContextCancelTriggersShutdown(t *testing.T) {
	s := New(nil, nil)
	m := &fakeMonitor{}
	s.Register("m", m)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !m.wasStopped() {
		t.Fatal("expected monitor to stop after context cancellation")
	}
}

func TestSlowMonitorStopDoesNotBlockOthersForever(t *testing.T) {
	s := New(nil, nil)
	slow := &fakeMonitor{stopDelay: 50 * time.Millisecond}
	fast := &fakeMonitor{}
	s.Register("slow", slow)
	s.Register("fast", fast)

	start := time.Now()
	runAndSignalDone(t, s)
	elapsed := time.Since(start)

	if !fast.wasStopped() {
		t.Fatal("expected fast monitor to still be stopped")
	}
	if elapsed > ShutdownBudget {
		t.Fatalf("shutdown took %v, longer than the budget %v", elapsed, ShutdownBudget)
	}
}

type fakeSink struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestSinkIsClosedOnShutdown(t *testing.T) {
	sink := &fakeSink{}
	s := New(nil, sink)
	s.Register("m", &fakeMonitor{})

	runAndSignalDone(t, s)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Fatal("expected sink to be closed on shutdown")
	}
}

func TestNotifyCompleteIsIdempotent(t *testing.T) {
	s := New(nil, nil)
	s.NotifyComplete()
	s.NotifyComplete() // must not panic on double-close
}
