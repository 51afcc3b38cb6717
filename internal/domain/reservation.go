package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReservationStatus type for reservation lifecycle
type ReservationStatus string

const (
	ReservationBooked    ReservationStatus = "booked"
	ReservationCancelled ReservationStatus = "cancelled" // Terminal; re-booking creates a new record
)

// Reservation is a member's claim on one seat in one class.
type Reservation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MemberID  primitive.ObjectID `bson:"memberId" json:"memberId"`
	ClassID   primitive.ObjectID `bson:"classId" json:"classId"`
	Status    ReservationStatus  `bson:"status" json:"status"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (r *Reservation) IsBooked() bool {
	return r.Status == ReservationBooked
}

func (r *Reservation) OwnedBy(memberID primitive.ObjectID) bool {
	return r.MemberID == memberID
}

// ReservationView pairs a reservation with the class it references.
// Class is nil when the class record could not be found.
type ReservationView struct {
	Reservation
	Class *FitnessClass `json:"fitnessClass"`
}

// MemberBookings is a member's reservation history split at a point in time.
type MemberBookings struct {
	Upcoming []ReservationView `json:"upcoming"`
	Past     []ReservationView `json:"past"`
}
