package service

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/events"
	"alcyxob/fitness-booking/internal/lock"
	"alcyxob/fitness-booking/internal/repository"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReconcileResult reports what a ledger recount found.
type ReconcileResult struct {
	ClassID primitive.ObjectID `json:"classId"`
	Before  int                `json:"before"`
	After   int                `json:"after"`
	Drift   bool               `json:"drift"`
}

// BookingService reserves and releases seats. Every mutation of a class's
// ledger runs under that class's lock.
type BookingService interface {
	Reserve(ctx context.Context, memberID, classID primitive.ObjectID) (*domain.Reservation, error)
	Cancel(ctx context.Context, reservationID, memberID primitive.ObjectID) (*domain.Reservation, error)
	Reconcile(ctx context.Context, classID primitive.ObjectID) (*ReconcileResult, error)
	ReconcileAll(ctx context.Context) ([]ReconcileResult, error)
}

type bookingService struct {
	classRepo       repository.ClassRepository
	reservationRepo repository.ReservationRepository
	tx              repository.Transactor
	locker          lock.Locker
	publisher       events.Publisher
}

func NewBookingService(
	classRepo repository.ClassRepository,
	reservationRepo repository.ReservationRepository,
	tx repository.Transactor,
	locker lock.Locker,
	publisher events.Publisher,
) BookingService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &bookingService{
		classRepo:       classRepo,
		reservationRepo: reservationRepo,
		tx:              tx,
		locker:          locker,
		publisher:       publisher,
	}
}

func classLockKey(classID primitive.ObjectID) string {
	return "class:" + classID.Hex()
}

// Reserve books one seat in classID for memberID.
// Checks run in order: class exists and is active, has a free seat, and the
// member holds no booked reservation for it. The ledger increment and the
// reservation insert commit together.
func (s *bookingService) Reserve(ctx context.Context, memberID, classID primitive.ObjectID) (*domain.Reservation, error) {
	if memberID == primitive.NilObjectID || classID == primitive.NilObjectID {
		return nil, errors.New("member ID and class ID are required")
	}

	unlock, err := s.locker.Lock(ctx, classLockKey(classID))
	if err != nil {
		return nil, fmt.Errorf("acquire class lock: %w", err)
	}

	var (
		reservation *domain.Reservation
		class       *domain.FitnessClass
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		class, err = s.classRepo.GetByID(ctx, classID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrClassNotFound
			}
			return err
		}
		if !class.IsActive() {
			return ErrClassNotActive
		}
		if class.IsFull() {
			return ErrClassFull
		}

		switch _, err := s.reservationRepo.FindBooked(ctx, memberID, classID); {
		case err == nil:
			return ErrAlreadyBooked
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		// Ledger first: a failed insert can be undone with a decrement, a
		// reservation can never go back from cancelled to nothing.
		if err := s.classRepo.AdjustOccupancy(ctx, classID, 1); err != nil {
			if errors.Is(err, repository.ErrOccupancyBounds) {
				return ErrClassFull
			}
			return err
		}

		reservation = &domain.Reservation{MemberID: memberID, ClassID: classID}
		if _, err := s.reservationRepo.Create(ctx, reservation); err != nil {
			s.compensate(ctx, classID, -1)
			if errors.Is(err, repository.ErrDuplicateKey) {
				return ErrAlreadyBooked
			}
			return err
		}
		class.OccupiedSeats++
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("INFO: Member %s booked class %s (%d/%d)", memberID.Hex(), classID.Hex(), class.OccupiedSeats, class.Capacity)
	s.publish(ctx, events.Event{
		Type:          events.BookingReserved,
		ReservationID: reservation.ID.Hex(),
		ClassID:       classID.Hex(),
		MemberID:      memberID.Hex(),
		OccupiedSeats: class.OccupiedSeats,
		Capacity:      class.Capacity,
	})
	return reservation, nil
}

// Cancel releases memberID's seat held by reservationID.
// Checks run in order: reservation exists, belongs to memberID, is still booked.
func (s *bookingService) Cancel(ctx context.Context, reservationID, memberID primitive.ObjectID) (*domain.Reservation, error) {
	reservation, err := s.checkCancellable(ctx, reservationID, memberID)
	if err != nil {
		return nil, err
	}
	classID := reservation.ClassID

	unlock, err := s.locker.Lock(ctx, classLockKey(classID))
	if err != nil {
		return nil, fmt.Errorf("acquire class lock: %w", err)
	}

	var class *domain.FitnessClass
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		// A concurrent cancel may have won while we waited for the lock.
		if _, err := s.checkCancellable(ctx, reservationID, memberID); err != nil {
			return err
		}

		adjusted, drifted := false, false
		if err := s.classRepo.AdjustOccupancy(ctx, classID, -1); err == nil {
			adjusted = true
		} else {
			switch {
			case errors.Is(err, repository.ErrOccupancyBounds):
				// Ledger already at zero with a booked reservation outstanding.
				drifted = true
			case errors.Is(err, repository.ErrNotFound):
				// Class record is gone; the reservation can still be released.
			default:
				return err
			}
		}

		if err := s.reservationRepo.MarkCancelled(ctx, reservationID); err != nil {
			if adjusted {
				s.compensate(ctx, classID, 1)
			}
			if errors.Is(err, repository.ErrUpdateFailed) {
				return ErrAlreadyCancelled
			}
			return err
		}

		if drifted {
			log.Printf("WARN: Ledger for class %s was below its booked count, recounting", classID.Hex())
			if _, err := s.recount(ctx, classID); err != nil {
				return err
			}
		}

		var err error
		class, err = s.classRepo.GetByID(ctx, classID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	reservation.Status = domain.ReservationCancelled
	reservation.UpdatedAt = time.Now().UTC()

	log.Printf("INFO: Member %s cancelled reservation %s for class %s", memberID.Hex(), reservationID.Hex(), classID.Hex())
	event := events.Event{
		Type:          events.BookingCancelled,
		ReservationID: reservationID.Hex(),
		ClassID:       classID.Hex(),
		MemberID:      memberID.Hex(),
	}
	if class != nil {
		event.OccupiedSeats = class.OccupiedSeats
		event.Capacity = class.Capacity
	}
	s.publish(ctx, event)
	return reservation, nil
}

func (s *bookingService) checkCancellable(ctx context.Context, reservationID, memberID primitive.ObjectID) (*domain.Reservation, error) {
	reservation, err := s.reservationRepo.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	if !reservation.OwnedBy(memberID) {
		return nil, ErrNotReservationOwner
	}
	if !reservation.IsBooked() {
		return nil, ErrAlreadyCancelled
	}
	return reservation, nil
}

// Reconcile overwrites a class's ledger with its booked reservation count.
func (s *bookingService) Reconcile(ctx context.Context, classID primitive.ObjectID) (*ReconcileResult, error) {
	unlock, err := s.locker.Lock(ctx, classLockKey(classID))
	if err != nil {
		return nil, fmt.Errorf("acquire class lock: %w", err)
	}
	defer unlock()

	var result *ReconcileResult
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.recount(ctx, classID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Drift {
		log.Printf("WARN: Ledger drift on class %s: occupiedSeats %d, booked %d; repaired", classID.Hex(), result.Before, result.After)
	}
	return result, nil
}

// recount must run under the class lock.
func (s *bookingService) recount(ctx context.Context, classID primitive.ObjectID) (*ReconcileResult, error) {
	class, err := s.classRepo.GetByID(ctx, classID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrClassNotFound
		}
		return nil, err
	}
	booked, err := s.reservationRepo.CountBooked(ctx, classID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{ClassID: classID, Before: class.OccupiedSeats, After: booked}
	if booked == class.OccupiedSeats {
		return result, nil
	}
	result.Drift = true
	if err := s.classRepo.SetOccupancy(ctx, classID, booked); err != nil {
		return nil, fmt.Errorf("set occupancy of class %s to %d: %w", classID.Hex(), booked, err)
	}
	return result, nil
}

// ReconcileAll reconciles every class. A failure on one class does not stop
// the others; all failures are returned joined.
func (s *bookingService) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	ids, err := s.classRepo.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ReconcileResult, 0, len(ids))
	var errs []error
	for _, id := range ids {
		result, err := s.Reconcile(ctx, id)
		if err != nil {
			log.Printf("ERROR: Failed to reconcile class %s: %v", id.Hex(), err)
			errs = append(errs, fmt.Errorf("class %s: %w", id.Hex(), err))
			continue
		}
		results = append(results, *result)
	}
	return results, errors.Join(errs...)
}

// compensate reverts a ledger change on stores without transactions. With a
// transaction the rollback already does it.
func (s *bookingService) compensate(ctx context.Context, classID primitive.ObjectID, delta int) {
	if repository.Atomic(s.tx) {
		return
	}
	if err := s.classRepo.AdjustOccupancy(ctx, classID, delta); err != nil {
		log.Printf("ERROR: Failed to compensate ledger of class %s by %d, reconcile required: %v", classID.Hex(), delta, err)
	}
}

// publishTimeout bounds how long a request waits on the broker after its
// booking has committed.
const publishTimeout = 2 * time.Second

// publish must be called after the class lock is released.
func (s *bookingService) publish(ctx context.Context, event events.Event) {
	event.OccurredAt = time.Now().UTC()
	publishEvent(ctx, s.publisher, event)
}

func publishEvent(ctx context.Context, publisher events.Publisher, event events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := publisher.Publish(ctx, event); err != nil {
		log.Printf("WARN: Failed to publish %s event for class %s: %v", event.Type, event.ClassID, err)
	}
}
