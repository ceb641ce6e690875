package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbtools/wugsync/pkg/plugin"
	"go.uber.org/zap"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	unsub := bus.Subscribe("device.saved", func(_ context.Context, e plugin.Event) {
		got = append(got, e.Topic)
	})
	defer unsub()

	bus.Publish(context.Background(), plugin.Event{Topic: "device.saved"})
	bus.Publish(context.Background(), plugin.Event{Topic: "device.deleted"})

	if len(got) != 1 || got[0] != "device.saved" {
		t.Errorf("handler received %v, want exactly one device.saved", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	calls := 0
	unsub := bus.Subscribe("t", func(_ context.Context, _ plugin.Event) { calls++ })

	bus.Publish(context.Background(), plugin.Event{Topic: "t"})
	unsub()
	bus.Publish(context.Background(), plugin.Event{Topic: "t"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var topics []string
	unsub := bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		topics = append(topics, e.Topic)
	})
	defer unsub()

	bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	bus.Publish(context.Background(), plugin.Event{Topic: "b"})

	if len(topics) != 2 {
		t.Errorf("wildcard handler received %d events, want 2", len(topics))
	}
}

func TestBus_PanickingHandlerDoesNotEscape(t *testing.T) {
	bus := NewBus(zap.NewNop())

	bus.Subscribe("t", func(_ context.Context, _ plugin.Event) {
		panic("boom")
	})

	// Must not panic the caller.
	if err := bus.Publish(context.Background(), plugin.Event{Topic: "t"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestBus_PublishAsync(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	bus.Subscribe("t", func(_ context.Context, _ plugin.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})

	bus.PublishAsync(context.Background(), plugin.Event{Topic: "t"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler not invoked within 1s")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
