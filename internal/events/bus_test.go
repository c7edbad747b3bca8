package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microshell/shell_host/internal/logging"
)

func newTestBus() *Bus {
	return NewBus(logging.NewNop())
}

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	bus := newTestBus()

	var got []Event
	bus.Subscribe(EventModuleLoaded, func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	})

	bus.Publish(ModuleLoaded{ModuleName: "products", LoadedAt: time.Now()})

	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	loaded, ok := got[0].(ModuleLoaded)
	if !ok {
		t.Fatalf("delivered %T, want ModuleLoaded", got[0])
	}
	if loaded.ModuleName != "products" {
		t.Errorf("ModuleName = %q, want 'products'", loaded.ModuleName)
	}
}

func TestBus_PublishIgnoresOtherKinds(t *testing.T) {
	bus := newTestBus()

	called := 0
	bus.Subscribe(EventModuleError, func(context.Context, Event) error {
		called++
		return nil
	})

	bus.Publish(ModuleLoaded{ModuleName: "products"})

	if called != 0 {
		t.Errorf("handler called %d times for a different kind, want 0", called)
	}
}

func TestBus_FailingHandlerIsIsolated(t *testing.T) {
	bus := newTestBus()

	second := 0
	bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		return fmt.Errorf("boom")
	})
	bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		second++
		return nil
	})

	// Must not panic and must still reach the second handler.
	bus.Publish(ModuleLoaded{ModuleName: "orders"})

	if second != 1 {
		t.Errorf("second handler called %d times, want 1", second)
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := newTestBus()

	second := 0
	bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		panic("handler exploded")
	})
	bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		second++
		return nil
	})

	bus.Publish(ModuleLoaded{ModuleName: "orders"})

	if second != 1 {
		t.Errorf("second handler called %d times, want 1", second)
	}
}

func TestBus_PublishAsyncCollectsFailures(t *testing.T) {
	bus := newTestBus()

	var ran atomic.Int32
	bus.Subscribe(EventAuthenticationChanged, func(context.Context, Event) error {
		ran.Add(1)
		return fmt.Errorf("first failed")
	})
	bus.Subscribe(EventAuthenticationChanged, func(context.Context, Event) error {
		ran.Add(1)
		return nil
	})
	bus.Subscribe(EventAuthenticationChanged, func(context.Context, Event) error {
		ran.Add(1)
		return fmt.Errorf("third failed")
	})

	err := bus.PublishAsync(context.Background(), AuthenticationChanged{IsAuthenticated: false})

	if err == nil {
		t.Fatal("expected aggregate error")
	}
	if ran.Load() != 3 {
		t.Errorf("ran %d handlers, want all 3 despite failures", ran.Load())
	}
}

func TestBus_PublishAsyncNoSubscribers(t *testing.T) {
	bus := newTestBus()
	if err := bus.PublishAsync(context.Background(), ModuleConnected{ModuleName: "x"}); err != nil {
		t.Fatalf("PublishAsync with no subscribers: %v", err)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := newTestBus()

	called := 0
	unsub := bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		called++
		return nil
	})

	bus.Publish(ModuleLoaded{ModuleName: "a"})
	unsub()
	unsub() // second call is a no-op
	bus.Publish(ModuleLoaded{ModuleName: "b"})

	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
	if n := bus.SubscriberCount(EventModuleLoaded); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestBus_SubscribeDuringDispatchDoesNotAffectInFlightPublish(t *testing.T) {
	bus := newTestBus()

	lateCalled := 0
	bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
			lateCalled++
			return nil
		})
		return nil
	})

	bus.Publish(ModuleLoaded{ModuleName: "a"})
	if lateCalled != 0 {
		t.Errorf("handler registered mid-dispatch ran %d times in same publish, want 0", lateCalled)
	}

	bus.Publish(ModuleLoaded{ModuleName: "b"})
	if lateCalled != 1 {
		t.Errorf("late handler called %d times on next publish, want 1", lateCalled)
	}
}

func TestBus_UnsubscribeDuringDispatch(t *testing.T) {
	bus := newTestBus()

	var unsub func()
	firstCalls := 0
	unsub = bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		firstCalls++
		unsub()
		return nil
	})
	secondCalls := 0
	bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
		secondCalls++
		return nil
	})

	bus.Publish(ModuleLoaded{ModuleName: "a"})
	bus.Publish(ModuleLoaded{ModuleName: "b"})

	if firstCalls != 1 {
		t.Errorf("self-unsubscribing handler called %d times, want 1", firstCalls)
	}
	if secondCalls != 2 {
		t.Errorf("sibling handler called %d times, want 2", secondCalls)
	}
}

func TestBus_Recent(t *testing.T) {
	bus := NewBus(logging.NewNop(), WithHistorySize(3))

	for i := 0; i < 5; i++ {
		bus.Publish(ModuleLoaded{ModuleName: fmt.Sprintf("m%d", i)})
	}

	recent := bus.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d events, want 3 (history cap)", len(recent))
	}
	if recent[0].(ModuleLoaded).ModuleName != "m4" {
		t.Errorf("most recent = %q, want 'm4'", recent[0].(ModuleLoaded).ModuleName)
	}
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	bus := newTestBus()

	var received atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(ModuleLoaded{ModuleName: "m"})
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				unsub := bus.Subscribe(EventModuleLoaded, func(context.Context, Event) error {
					received.Add(1)
					return nil
				})
				unsub()
			}
		}()
	}
	wg.Wait()
}
