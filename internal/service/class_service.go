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
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ClassInput carries the staff-editable fields of a class.
type ClassInput struct {
	Title       string
	Trainer     string
	Description string
	Date        time.Time
	Time        string // "HH:MM"
	Duration    int
	Capacity    int
}

// ClassService manages the class catalog. Capacity changes and cancellation
// take the class lock so they serialize with bookings.
type ClassService interface {
	CreateClass(ctx context.Context, input ClassInput) (*domain.FitnessClass, error)
	ListClasses(ctx context.Context, filter domain.ClassFilter) ([]domain.FitnessClass, error)
	GetClass(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error)
	UpdateClass(ctx context.Context, id primitive.ObjectID, input ClassInput) (*domain.FitnessClass, error)
	CancelClass(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error)
	Stats(ctx context.Context) (*domain.CatalogStats, error)
}

type classService struct {
	classRepo       repository.ClassRepository
	reservationRepo repository.ReservationRepository
	locker          lock.Locker
	publisher       events.Publisher
	now             func() time.Time
}

func NewClassService(
	classRepo repository.ClassRepository,
	reservationRepo repository.ReservationRepository,
	locker lock.Locker,
	publisher events.Publisher,
	now func() time.Time,
) ClassService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if now == nil {
		now = time.Now
	}
	return &classService{
		classRepo:       classRepo,
		reservationRepo: reservationRepo,
		locker:          locker,
		publisher:       publisher,
		now:             now,
	}
}

func (in *ClassInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Trainer = strings.TrimSpace(in.Trainer)
	in.Description = strings.TrimSpace(in.Description)
	in.Time = strings.TrimSpace(in.Time)

	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidClass)
	case in.Trainer == "":
		return fmt.Errorf("%w: trainer is required", ErrInvalidClass)
	case in.Description == "":
		return fmt.Errorf("%w: description is required", ErrInvalidClass)
	case in.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidClass)
	case in.Duration < domain.MinClassDuration:
		return fmt.Errorf("%w: duration must be at least %d minutes", ErrInvalidClass, domain.MinClassDuration)
	case in.Capacity < domain.MinClassCapacity:
		return fmt.Errorf("%w: capacity must be at least %d", ErrInvalidClass, domain.MinClassCapacity)
	}
	if _, err := time.Parse("15:04", in.Time); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", ErrInvalidClass)
	}
	return nil
}

func (s *classService) CreateClass(ctx context.Context, input ClassInput) (*domain.FitnessClass, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}

	class := &domain.FitnessClass{
		Title:       input.Title,
		Trainer:     input.Trainer,
		Description: input.Description,
		Date:        input.Date.UTC(),
		Time:        input.Time,
		Duration:    input.Duration,
		Capacity:    input.Capacity,
		Status:      domain.ClassActive,
	}
	if _, err := s.classRepo.Create(ctx, class); err != nil {
		return nil, err
	}
	log.Printf("INFO: Created class %s (%q, capacity %d)", class.ID.Hex(), class.Title, class.Capacity)
	return class, nil
}

// ListClasses returns active classes sorted by date then time.
func (s *classService) ListClasses(ctx context.Context, filter domain.ClassFilter) ([]domain.FitnessClass, error) {
	switch filter {
	case domain.FilterAll, domain.FilterUpcoming, domain.FilterPast:
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", ErrInvalidClass, filter)
	}
	return s.classRepo.List(ctx, filter, s.now())
}

// GetClass returns a class whatever its status.
func (s *classService) GetClass(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error) {
	class, err := s.classRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrClassNotFound
		}
		return nil, err
	}
	return class, nil
}

// UpdateClass rewrites details and capacity of an active class. Capacity may
// not drop below the number of booked reservations.
func (s *classService) UpdateClass(ctx context.Context, id primitive.ObjectID, input ClassInput) (*domain.FitnessClass, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, classLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("acquire class lock: %w", err)
	}
	defer unlock()

	class, err := s.GetClass(ctx, id)
	if err != nil {
		return nil, err
	}
	if !class.IsActive() {
		return nil, ErrClassNotActive
	}

	booked, err := s.reservationRepo.CountBooked(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Capacity < booked || input.Capacity < class.OccupiedSeats {
		return nil, ErrCapacityBelowOccupancy
	}

	class.Title = input.Title
	class.Trainer = input.Trainer
	class.Description = input.Description
	class.Date = input.Date.UTC()
	class.Time = input.Time
	class.Duration = input.Duration
	class.Capacity = input.Capacity
	if err := s.classRepo.UpdateDetails(ctx, class); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrClassNotFound
		}
		return nil, err
	}
	return class, nil
}

// CancelClass moves a class to cancelled. Existing reservations stay booked
// until their members cancel them; new ones are refused.
func (s *classService) CancelClass(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error) {
	class, err := s.cancelLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Cancelled class %s with %d booked seats", id.Hex(), class.OccupiedSeats)

	publishEvent(ctx, s.publisher, events.Event{
		Type:          events.ClassCancelled,
		ClassID:       id.Hex(),
		OccupiedSeats: class.OccupiedSeats,
		Capacity:      class.Capacity,
		OccurredAt:    s.now().UTC(),
	})
	return class, nil
}

func (s *classService) cancelLocked(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error) {
	unlock, err := s.locker.Lock(ctx, classLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("acquire class lock: %w", err)
	}
	defer unlock()

	if err := s.classRepo.Cancel(ctx, id); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		// Either missing or already cancelled
		if _, err := s.GetClass(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrClassNotActive
	}
	return s.GetClass(ctx, id)
}

// Stats counts booked seats from reservations rather than summing the ledger.
func (s *classService) Stats(ctx context.Context) (*domain.CatalogStats, error) {
	active, capacity, err := s.classRepo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	booked, err := s.reservationRepo.CountBookedInActiveClasses(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.CatalogStats{
		ActiveClasses: active,
		TotalCapacity: capacity,
		BookedSeats:   booked,
	}, nil
}
