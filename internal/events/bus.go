package events

import (
	"context"
	goerrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/microshell/shell_host/internal/errors"
	"github.com/microshell/shell_host/internal/logging"
)

// Handler processes a published event. Returning an error marks the
// handler invocation failed; the failure never reaches sibling handlers.
type Handler func(ctx context.Context, ev Event) error

// Observer is invoked after each publish with the event kind, the
// dispatch outcome ("ok" or "error"), and the dispatch duration.
type Observer func(kind EventType, result string, duration time.Duration)

type subscription struct {
	id      int64
	handler Handler
}

// Bus is a typed in-process publish/subscribe channel. Delivery snapshots
// the subscriber list under the lock, so handlers may subscribe or
// unsubscribe during dispatch without affecting the in-flight publish.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID int64

	history *history

	log      *logging.Logger
	observer Observer
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithObserver sets a dispatch observer, typically a metrics hook.
func WithObserver(o Observer) BusOption {
	return func(b *Bus) { b.observer = o }
}

// WithHistorySize sets the size of the retained event history.
func WithHistorySize(n int) BusOption {
	return func(b *Bus) { b.history = newHistory(n) }
}

// NewBus creates an event bus.
func NewBus(log *logging.Logger, opts ...BusOption) *Bus {
	if log == nil {
		log = logging.NewNop()
	}
	b := &Bus{
		subs:    make(map[EventType][]subscription),
		history: newHistory(defaultHistorySize),
		log:     log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for the given event kind and returns a
// function that removes the subscription. Calling the returned function
// more than once is a no-op.
func (b *Bus) Subscribe(kind EventType, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscriberCount returns the number of handlers registered for kind.
func (b *Bus) SubscriberCount(kind EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Publish delivers ev synchronously to the current subscribers of its
// kind. A failing handler is logged and isolated; it neither blocks
// sibling handlers nor propagates to the caller.
func (b *Bus) Publish(ev Event) {
	start := time.Now()
	handlers := b.snapshot(ev.Kind())
	b.history.record(ev)

	failed := false
	for _, s := range handlers {
		if err := b.invoke(context.Background(), s.handler, ev); err != nil {
			failed = true
			b.log.WithError(err).WithField("event", string(ev.Kind())).Warn("event handler failed")
		}
	}
	b.observe(ev.Kind(), failed, time.Since(start))
}

// PublishAsync delivers ev to all current subscribers concurrently and
// waits for every handler to complete. Individual failures are collected
// into the returned aggregate; one failing handler never abandons its
// siblings.
func (b *Bus) PublishAsync(ctx context.Context, ev Event) error {
	start := time.Now()
	handlers := b.snapshot(ev.Kind())
	b.history.record(ev)

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, s := range handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			errs[i] = b.invoke(ctx, h, ev)
		}(i, s.handler)
	}
	wg.Wait()

	err := goerrors.Join(errs...)
	if err != nil {
		b.log.WithError(err).WithField("event", string(ev.Kind())).Warn("async event dispatch had failures")
	}
	b.observe(ev.Kind(), err != nil, time.Since(start))
	return err
}

// Recent returns up to n most recently published events, newest first.
func (b *Bus) Recent(n int) []Event {
	return b.history.recent(n)
}

func (b *Bus) snapshot(kind EventType) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.subs[kind]
	out := make([]subscription, len(list))
	copy(out, list)
	return out
}

// invoke runs a handler, converting panics into handler failures.
func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.HandlerFailure(string(ev.Kind()), fmt.Errorf("panic: %v", r))
		}
	}()
	if herr := h(ctx, ev); herr != nil {
		return errors.HandlerFailure(string(ev.Kind()), herr)
	}
	return nil
}

func (b *Bus) observe(kind EventType, failed bool, d time.Duration) {
	if b.observer == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	b.observer(kind, result, d)
}

const defaultHistorySize = 256

// history is a fixed-size circular buffer of published events.
type history struct {
	mu     sync.RWMutex
	events []Event
	head   int
	count  int
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{events: make([]Event, size)}
}

func (h *history) record(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.head] = ev
	h.head = (h.head + 1) % len(h.events)
	if h.count < len(h.events) {
		h.count++
	}
}

func (h *history) recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || h.count == 0 {
		return nil
	}
	if n > h.count {
		n = h.count
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (h.head - 1 - i + len(h.events)) % len(h.events)
		out[i] = h.events[idx]
	}
	return out
}
