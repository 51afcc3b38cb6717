package repository

import (
	"alcyxob/fitness-booking/internal/domain"
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive" // For using ObjectIDs
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrUpdateFailed = RepositoryError("update failed")
	// ErrDuplicateKey is returned when a unique index rejects a write.
	// For reservations this is the (memberId, classId, status=booked) index.
	ErrDuplicateKey = RepositoryError("duplicate key")
	// ErrOccupancyBounds is returned when an occupancy adjustment would leave
	// the range [0, capacity] or the class is not active.
	ErrOccupancyBounds = RepositoryError("occupancy out of bounds")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// ClassRepository defines the interface for interacting with class data.
type ClassRepository interface {
	Create(ctx context.Context, class *domain.FitnessClass) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error)
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.FitnessClass, error)
	// List returns active classes ordered by date then time.
	List(ctx context.Context, filter domain.ClassFilter, now time.Time) ([]domain.FitnessClass, error)
	ListIDs(ctx context.Context) ([]primitive.ObjectID, error)
	// UpdateDetails writes descriptive, schedule and capacity fields only.
	// It never touches occupiedSeats or status.
	UpdateDetails(ctx context.Context, class *domain.FitnessClass) error
	// Cancel moves an active class to cancelled. ErrNotFound if no active class matched.
	Cancel(ctx context.Context, id primitive.ObjectID) error
	// AdjustOccupancy applies delta to occupiedSeats only if the result stays in
	// [0, capacity] and the class is active (for increments). ErrOccupancyBounds otherwise.
	AdjustOccupancy(ctx context.Context, id primitive.ObjectID, delta int) error
	// SetOccupancy overwrites the ledger. Reconciliation only.
	SetOccupancy(ctx context.Context, id primitive.ObjectID, value int) error
	Stats(ctx context.Context) (activeClasses, totalCapacity int, err error)
}

// ReservationRepository defines the interface for interacting with reservation data.
type ReservationRepository interface {
	// Create inserts a booked reservation. ErrDuplicateKey if the member already
	// holds a booked reservation for the class.
	Create(ctx context.Context, reservation *domain.Reservation) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Reservation, error)
	FindBooked(ctx context.Context, memberID, classID primitive.ObjectID) (*domain.Reservation, error)
	// MarkCancelled flips booked -> cancelled. ErrUpdateFailed if it was not booked.
	MarkCancelled(ctx context.Context, id primitive.ObjectID) error
	ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]domain.Reservation, error)
	ListBookedByClass(ctx context.Context, classID primitive.ObjectID) ([]domain.Reservation, error)
	CountBooked(ctx context.Context, classID primitive.ObjectID) (int, error)
	// CountBookedInActiveClasses counts booked reservations of active classes.
	CountBookedInActiveClasses(ctx context.Context) (int, error)
}

// Transactor runs fn as one atomic unit against the store.
// Repositories called with the ctx handed to fn take part in the transaction.
// Stores without transaction support run fn directly.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactorFunc adapts a function to the Transactor interface.
type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f TransactorFunc) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

type noTransaction struct{}

func (noTransaction) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// NoTransaction runs fn without a transaction. Writes made before a failure stay.
var NoTransaction Transactor = noTransaction{}

// Atomic reports whether t rolls back fn's writes when fn fails. Callers
// compensate by hand when it does not.
func Atomic(t Transactor) bool {
	_, ok := t.(noTransaction)
	return !ok
}
