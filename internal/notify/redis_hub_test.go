package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"edgeriver/internal/testsupport/redisstub"
)

func TestRedisHubPublishSubscribe(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	hub, err := NewRedisHub(RedisHubConfig{
		Addr:         srv.Addr(),
		Password:     "secret",
		Stream:       "test:notifications",
		BlockTimeout: 100 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new redis hub: %v", err)
	}
	t.Cleanup(func() {
		if closer, ok := hub.(interface{ Close(context.Context) error }); ok {
			_ = closer.Close(context.Background())
		}
	})

	sub := hub.Subscribe()
	t.Cleanup(sub.Close)

	sent := ProgressEvent("vid-1", 42)
	if err := hub.Publish(context.Background(), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.VideoID != sent.VideoID || got.Progress != sent.Progress || got.Type != sent.Type {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisHubFansOutToEverySubscriber(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	hub, err := NewRedisHub(RedisHubConfig{
		Addr:         srv.Addr(),
		Stream:       "test:notifications",
		BlockTimeout: 100 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new redis hub: %v", err)
	}
	t.Cleanup(func() {
		if closer, ok := hub.(interface{ Close(context.Context) error }); ok {
			_ = closer.Close(context.Background())
		}
	})

	first := hub.Subscribe()
	t.Cleanup(first.Close)
	second := hub.Subscribe()
	t.Cleanup(second.Close)

	sent := CompleteEvent("vid-done")
	if err := hub.Publish(context.Background(), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, sub := range map[string]Subscription{"first": first, "second": second} {
		select {
		case got := <-sub.Events():
			if got.VideoID != sent.VideoID || got.Type != sent.Type {
				t.Fatalf("%s subscriber got wrong event: %+v", name, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s subscriber never received the event", name)
		}
	}
}

func TestRedisHubRequiresAddr(t *testing.T) {
	if _, err := NewRedisHub(RedisHubConfig{}); err == nil {
		t.Fatal("expected an error without an address")
	}
}

func TestRedisHubRejectsEmptyEventType(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	hub, err := NewRedisHub(RedisHubConfig{
		Addr:   srv.Addr(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new redis hub: %v", err)
	}

	if err := hub.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected an error for an event without a type")
	}
}
