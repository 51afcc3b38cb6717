package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ClassStatus type for class lifecycle
type ClassStatus string

const (
	ClassActive    ClassStatus = "active"
	ClassCancelled ClassStatus = "cancelled" // Terminal, set by staff
)

// Minimums accepted by the catalog.
const (
	MinClassDuration = 15 // minutes
	MinClassCapacity = 1
)

// FitnessClass is a scheduled, capacity-limited session run by one trainer.
// OccupiedSeats is the capacity ledger: a cached count of booked reservations
// that only the booking engine (and reconciliation) may write.
type FitnessClass struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title         string             `bson:"title" json:"title"`
	Trainer       string             `bson:"trainer" json:"trainer"`
	Description   string             `bson:"description" json:"description"`
	Date          time.Time          `bson:"date" json:"date"`
	Time          string             `bson:"time" json:"time"`         // "HH:MM", local to the gym
	Duration      int                `bson:"duration" json:"duration"` // minutes
	Capacity      int                `bson:"capacity" json:"capacity"`
	OccupiedSeats int                `bson:"occupiedSeats" json:"occupiedSeats"`
	Status        ClassStatus        `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (c *FitnessClass) IsActive() bool {
	return c.Status == ClassActive
}

func (c *FitnessClass) IsFull() bool {
	return c.OccupiedSeats >= c.Capacity
}

// SpotsLeft is derived, never stored.
func (c *FitnessClass) SpotsLeft() int {
	if left := c.Capacity - c.OccupiedSeats; left > 0 {
		return left
	}
	return 0
}

// ClassFilter narrows catalog listings by schedule relative to a point in time.
type ClassFilter string

const (
	FilterAll      ClassFilter = ""
	FilterUpcoming ClassFilter = "upcoming"
	FilterPast     ClassFilter = "past"
)
