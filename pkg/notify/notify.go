package notify

import (
	"context"
	"time"
)

// Event types published on borrow-request transitions.
const (
	EventRequestSubmitted = "request.submitted"
	EventRequestAccepted  = "request.accepted"
	EventRequestRejected  = "request.rejected"
	EventRequestCancelled = "request.cancelled"
)

// Event describes one borrow-request transition. Downstream consumers
// (mail sender, activity feed) subscribe by routing key = Type.
type Event struct {
	Type        string    `json:"type"`
	BookID      string    `json:"bookId"`
	RequestID   string    `json:"requestId"`
	RequesterID string    `json:"requesterId"`
	OwnerID     string    `json:"ownerId"`
	At          time.Time `json:"at"`
}

// Publisher emits borrow-lifecycle events. Publishing is best-effort:
// a failed publish never fails the state transition that produced it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards events; used in tests and local development.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
