package notify

import (
	"context"
	"errors"
	"sync"
)

// NewMemoryHub initialises an in-process fan-out hub suitable for tests and
// single-process deployments.
func NewMemoryHub(buffer int) Notifier {
	if buffer <= 0 {
		buffer = 32
	}
	return &memoryHub{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

type memoryHub struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
}

func (h *memoryHub) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Drop instead of blocking so a stalled observer cannot
			// hold up the processing path.
		}
	}
	return nil
}

func (h *memoryHub) Subscribe() Subscription {
	sub := &memorySubscription{
		hub: h,
		ch:  make(chan Event, h.buffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

type memorySubscription struct {
	once sync.Once
	hub  *memoryHub
	ch   chan Event
}

func (s *memorySubscription) Events() <-chan Event {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}
