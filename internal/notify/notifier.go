// Package notify fans processing lifecycle events out to observers.
// Delivery is at most once: events published while an observer is absent or
// slow are dropped, never buffered for later.
package notify

import (
	"context"
	"time"

	"edgeriver/internal/models"
)

type EventType string

const (
	EventProcessingProgress EventType = "processingProgress"
	EventProcessingComplete EventType = "processingComplete"
	EventProcessingError    EventType = "processingError"
)

// Event describes one observable change in a video's processing lifecycle.
type Event struct {
	Type       EventType          `json:"type"`
	VideoID    string             `json:"videoId"`
	Status     models.VideoStatus `json:"status,omitempty"`
	Progress   int                `json:"progress"`
	Error      string             `json:"error,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// Notifier publishes events to all current subscribers.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Subscribe() Subscription
}

// Subscription represents an active event stream.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// ProgressEvent builds a progress update for a video.
func ProgressEvent(videoID string, progress int) Event {
	return Event{
		Type:       EventProcessingProgress,
		VideoID:    videoID,
		Status:     models.VideoStatusProcessing,
		Progress:   progress,
		OccurredAt: time.Now().UTC(),
	}
}

// CompleteEvent builds a terminal success event for a video.
func CompleteEvent(videoID string) Event {
	return Event{
		Type:       EventProcessingComplete,
		VideoID:    videoID,
		Status:     models.VideoStatusReady,
		Progress:   100,
		OccurredAt: time.Now().UTC(),
	}
}

// ErrorEvent builds a terminal failure event for a video.
func ErrorEvent(videoID, message string) Event {
	return Event{
		Type:       EventProcessingError,
		VideoID:    videoID,
		Status:     models.VideoStatusError,
		Error:      message,
		OccurredAt: time.Now().UTC(),
	}
}
