// Package bus implements the in-process event bus (spec §4.4). In
// cmd/lb3d the active_window, keyboard and mouse batches are published
// onto it, and the context-snapshot monitor and the browser monitor's
// fallback mode subscribe to it; the spool is not a subscriber. It
// is a single-consumer bounded FIFO queue: one worker goroutine drains it
// and delivers each event to every subscriber in FIFO order, so handlers
// never race each other.
package bus

import (
	"sync"
	"time"

	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/logctx"
)

// DefaultCapacity is the default bounded queue size (spec §4.4).
const DefaultCapacity = 10000

// Handler receives delivered events. A handler that panics or returns an
// error affects only its own delivery; the bus isolates it and continues
// to the next handler.
type Handler func(e *event.Event)

// SubscriptionID identifies a prior Subscribe call so it can be passed to
// Unsubscribe. Handler is a func value and func values are not comparable
// in Go, so subscriptions are keyed by id rather than by handler identity.
type SubscriptionID uint64

type subscriber struct {
	id SubscriptionID
	fn Handler
}

// Bus is a bounded, single-consumer FIFO event bus.
type Bus struct {
	mu        sync.Mutex
	handlers  []subscriber
	nextSubID SubscriptionID

	queue   chan *event.Event
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	dropped uint64
}

// New constructs a Bus with the given bounded capacity. A capacity of 0
// uses DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		queue: make(chan *event.Event, capacity),
	}
}

// Subscribe registers a handler to receive every published event from the
// moment of subscription onward. The returned SubscriptionID can be passed
// to Unsubscribe to deregister it later (spec §4.4's subscribe/unsubscribe
// pair).
func (b *Bus) Subscribe(h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.handlers = append(b.handlers, subscriber{id: id, fn: h})
	return id
}

// Unsubscribe removes a previously registered handler. Unsubscribing an
// id that is unknown or already removed is a no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

// DefaultPublishTimeout is used by Publish for callers that don't need a
// specific bound.
const DefaultPublishTimeout = time.Second

// Publish enqueues an event for delivery, waiting up to timeout for room
// in the queue. It returns false if the queue is still full when timeout
// elapses — callers treat this as backpressure (lberrors.KindBusFull at
// the source) rather than blocking the capture thread. A timeout of 0
// uses DefaultPublishTimeout (spec §4.4's publish(event, timeout)).
func (b *Bus) Publish(e *event.Event, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	select {
	case b.queue <- e:
		return true
	case <-time.After(timeout):
		b.dropped++
		logctx.For("bus").Warn("event queue full, dropping event", "monitor", e.Monitor, "action", e.Action)
		return false
	}
}

// Dropped reports how many events have been dropped due to backpressure
// since the bus was constructed.
func (b *Bus) Dropped() uint64 {
	return b.dropped
}

// Start launches the worker goroutine that drains the queue and delivers
// events to subscribers. Calling Start twice is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.workerLoop()
	logctx.For("bus").Info("event bus started")
}

func (b *Bus) workerLoop() {
	defer close(b.doneCh)
	for {
		select {
		case <-b.stopCh:
			// Drain whatever remains so Stop doesn't silently drop events
			// that were already accepted by Publish.
			for {
				select {
				case e := <-b.queue:
					b.deliver(e)
				default:
					return
				}
			}
		case e := <-b.queue:
			b.deliver(e)
		}
	}
}

func (b *Bus) deliver(e *event.Event) {
	b.mu.Lock()
	handlers := make([]subscriber, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	log := logctx.For("bus")
	for _, s := range handlers {
		safeInvoke(s.fn, e, log)
	}
}

func safeInvoke(h Handler, e *event.Event, log interface {
	Error(msg string, args ...any)
}) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in event handler", "monitor", e.Monitor, "action", e.Action, "recovered", r)
		}
	}()
	h(e)
}

// Stop signals the worker to drain remaining events and exit, then waits
// for it (bounded by timeout) before returning. Calling Stop when not
// running is a no-op.
func (b *Bus) Stop(timeout time.Duration) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(timeout):
		logctx.For("bus").Warn("event bus stop timed out")
	}
	logctx.For("bus").Info("event bus stopped")
}

// Flush blocks until the queue is empty, bounded by timeout. It does not
// guarantee in-flight handler delivery has completed for the very last
// item beyond what the worker loop naturally provides, but since delivery
// is synchronous within the loop, an empty queue means every prior event
// has already been handed to every handler.
func (b *Bus) Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(b.queue) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
