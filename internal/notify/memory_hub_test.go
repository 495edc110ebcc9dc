package notify

import (
	"context"
	"testing"
	"time"
)

func TestMemoryHubFanOut(t *testing.T) {
	hub := NewMemoryHub(4)
	first := hub.Subscribe()
	defer first.Close()
	second := hub.Subscribe()
	defer second.Close()

	event := ProgressEvent("vid-1", 25)
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, sub := range map[string]Subscription{"first": first, "second": second} {
		select {
		case got := <-sub.Events():
			if got.VideoID != "vid-1" || got.Progress != 25 {
				t.Fatalf("%s: unexpected event %+v", name, got)
			}
			if got.Type != EventProcessingProgress {
				t.Fatalf("%s: unexpected type %q", name, got.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for event", name)
		}
	}
}

func TestMemoryHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewMemoryHub(4)
	if err := hub.Publish(context.Background(), CompleteEvent("vid-2")); err != nil {
		t.Fatalf("Publish with no subscribers: %v", err)
	}
}

func TestMemoryHubRejectsEmptyType(t *testing.T) {
	hub := NewMemoryHub(4)
	if err := hub.Publish(context.Background(), Event{VideoID: "vid-3"}); err == nil {
		t.Fatal("expected error for missing event type")
	}
}

func TestMemoryHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewMemoryHub(1)
	sub := hub.Subscribe()
	defer sub.Close()

	ctx := context.Background()
	if err := hub.Publish(ctx, ProgressEvent("vid-4", 10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Buffer is full; this publish must drop rather than block.
	done := make(chan error, 1)
	go func() { done <- hub.Publish(ctx, ProgressEvent("vid-4", 20)) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	got := <-sub.Events()
	if got.Progress != 10 {
		t.Fatalf("expected first event, got %+v", got)
	}
	select {
	case extra := <-sub.Events():
		t.Fatalf("expected second event dropped, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemorySubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewMemoryHub(4)
	sub := hub.Subscribe()
	sub.Close()
	sub.Close()

	if err := hub.Publish(context.Background(), ErrorEvent("vid-5", "boom")); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed event channel")
	}
}
