// Package events publishes booking domain events after they are committed.
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"time"
)

// Event types, also used as AMQP routing keys.
const (
	BookingReserved  = "booking.reserved"
	BookingCancelled = "booking.cancelled"
	ClassCancelled   = "class.cancelled"
)

// Event is the JSON body of every published message.
type Event struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservationId,omitempty"`
	ClassID       string    `json:"classId"`
	MemberID      string    `json:"memberId,omitempty"`
	OccupiedSeats int       `json:"occupiedSeats"`
	Capacity      int       `json:"capacity"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher sends events to whatever is listening.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher drops every event. Used when amqp.enabled is false.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
