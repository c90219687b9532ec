// Package sse implements Server-Sent Events for pushing auth and review
// changes to connected browsers.
package sse

import (
	"time"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventAuthChanged is sent to one visitor when their signed-in user changes.
	EventAuthChanged EventType = "auth.changed"

	// EventReviewCreated is broadcast when any visitor posts a review.
	EventReviewCreated EventType = "review.created"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
	// VisitorID limits delivery to one visitor. Empty means everyone.
	VisitorID string `json:"-"`
}

// AuthEventData is the payload of auth.changed.
type AuthEventData struct {
	State string       `json:"state"`
	User  *domain.User `json:"user"`
}

// ReviewEventData is the payload of review.created.
type ReviewEventData struct {
	Review *domain.Review `json:"review"`
}

// HeartbeatEventData is the payload of heartbeat.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewAuthChangedEvent creates an auth.changed event for one visitor.
func NewAuthChangedEvent(visitorID, state string, user *domain.User) Event {
	return Event{
		Type:      EventAuthChanged,
		VisitorID: visitorID,
		Timestamp: time.Now(),
		Data: AuthEventData{
			State: state,
			User:  user,
		},
	}
}

// NewReviewCreatedEvent creates a review.created event for everyone.
func NewReviewCreatedEvent(review *domain.Review) Event {
	return Event{
		Type:      EventReviewCreated,
		Timestamp: time.Now(),
		Data:      ReviewEventData{Review: review},
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Timestamp: now,
		Data:      HeartbeatEventData{ServerTime: now},
	}
}
