// Package scheduler provides the abstract time and delayed-callback
// primitive the rest of the core is built on (spec §4.1). RealScheduler
// drives production timing; ManualScheduler drives deterministic tests.
package scheduler

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback for cancellation.
type Handle struct {
	id uint64
}

// Scheduler is the capability every monitor and the bus depend on for
// timing instead of touching time.Now/time.AfterFunc directly.
type Scheduler interface {
	// Now returns the current time in fractional seconds.
	Now() float64
	// CallLater schedules fn to run after delay seconds.
	CallLater(delaySeconds float64, fn func()) Handle
	// Cancel cancels a previously scheduled callback. Canceling after
	// the callback already fired, or canceling twice, is a no-op.
	Cancel(h Handle)
	// CancelAll cancels every outstanding callback.
	CancelAll()
}

// --- RealScheduler -----------------------------------------------------

// RealScheduler uses the monotonic wall clock and one-shot OS timers.
// Callbacks run on their own goroutine; callers must be safe for
// concurrent invocation since multiple callbacks can fire in parallel.
type RealScheduler struct {
	mu      sync.Mutex
	nextID  uint64
	start   time.Time
	timers  map[uint64]*time.Timer
	pending map[uint64]bool
}

// NewReal constructs a RealScheduler whose Now() is seconds since
// construction (monotonic, immune to wall-clock adjustments).
func NewReal() *RealScheduler {
	return &RealScheduler{
		start:   time.Now(),
		timers:  make(map[uint64]*time.Timer),
		pending: make(map[uint64]bool),
	}
}

func (s *RealScheduler) Now() float64 {
	return time.Since(s.start).Seconds()
}

func (s *RealScheduler) CallLater(delaySeconds float64, fn func()) Handle {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = true
	s.mu.Unlock()

	timer := time.AfterFunc(durationFromSeconds(delaySeconds), func() {
		s.mu.Lock()
		fire := s.pending[id]
		delete(s.pending, id)
		delete(s.timers, id)
		s.mu.Unlock()
		if fire {
			fn()
		}
	})

	s.mu.Lock()
	s.timers[id] = timer
	s.mu.Unlock()

	return Handle{id: id}
}

func (s *RealScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[h.id]; ok {
		timer.Stop()
		delete(s.timers, h.id)
	}
	delete(s.pending, h.id)
}

func (s *RealScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.pending = make(map[uint64]bool)
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// --- ManualScheduler -----------------------------------------------------

type scheduledTask struct {
	id       uint64
	due      float64
	seq      uint64 // insertion order, for tie-breaking
	fn       func()
	canceled bool
}

// ManualScheduler is the deterministic scheduler used by tests: time only
// moves when Advance is called, and Advance executes every callback whose
// due time falls within the advanced window, in non-decreasing due-time
// order, breaking ties by insertion order.
type ManualScheduler struct {
	mu      sync.Mutex
	now     float64
	nextID  uint64
	nextSeq uint64
	tasks   []*scheduledTask
}

// NewManual constructs a ManualScheduler starting at simulated time 0 (or
// startTime if provided via SetNow).
func NewManual() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow pins the simulated clock to an absolute value; useful for seeding
// a test at a specific epoch offset before the first Advance.
func (s *ManualScheduler) SetNow(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

func (s *ManualScheduler) CallLater(delaySeconds float64, fn func()) Handle {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.nextSeq++
	seq := s.nextSeq
	due := s.now + delaySeconds
	s.tasks = append(s.tasks, &scheduledTask{id: id, due: due, seq: seq, fn: fn})
	s.mu.Unlock()
	return Handle{id: id}
}

func (s *ManualScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.id == h.id {
			t.canceled = true
			return
		}
	}
}

func (s *ManualScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		t.canceled = true
	}
}

// Advance moves simulated time forward by dt seconds and synchronously
// executes every non-canceled callback whose due time falls at or before
// the new now, in non-decreasing due-time order (ties broken by insertion
// order). Callbacks scheduled during Advance fire within the same call if
// their due time is still within the advanced window.
func (s *ManualScheduler) Advance(dt float64) int {
	s.mu.Lock()
	target := s.now + dt
	s.mu.Unlock()

	executed := 0
	for {
		s.mu.Lock()
		// Find the earliest non-canceled, not-yet-run due task <= target.
		bestIdx := -1
		for i, t := range s.tasks {
			if t.canceled || t.due > target {
				continue
			}
			if bestIdx == -1 {
				bestIdx = i
				continue
			}
			b := s.tasks[bestIdx]
			if t.due < b.due || (t.due == b.due && t.seq < b.seq) {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			s.now = target
			s.mu.Unlock()
			break
		}
		t := s.tasks[bestIdx]
		s.tasks = append(s.tasks[:bestIdx], s.tasks[bestIdx+1:]...)
		if t.due > s.now {
			s.now = t.due
		}
		s.mu.Unlock()

		t.fn()
		executed++
	}
	return executed
}

// PendingCount reports the number of non-canceled, not-yet-fired tasks.
func (s *ManualScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.canceled {
			n++
		}
	}
	return n
}
