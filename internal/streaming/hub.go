package streaming

import (
	"context"
	"slices"
	"time"
)

// StreamEvent is a real-time notification about one recipe run.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	UserID    string    `json:"user_id,omitempty"`
	Recipe    string    `json:"recipe,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Matches reports whether e passes the filter. Empty criteria match
// everything.
func (f EventFilter) Matches(e StreamEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	return slices.Contains(f.EventTypes, e.EventType)
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
