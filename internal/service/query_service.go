package service

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/repository"
	"bytes"
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BookingQueryService reads a member's reservation history. It never takes
// class locks and only sees committed state.
type BookingQueryService interface {
	ListForMember(ctx context.Context, memberID primitive.ObjectID, now time.Time) (*domain.MemberBookings, error)
}

type bookingQueryService struct {
	classRepo       repository.ClassRepository
	reservationRepo repository.ReservationRepository
}

func NewBookingQueryService(classRepo repository.ClassRepository, reservationRepo repository.ReservationRepository) BookingQueryService {
	return &bookingQueryService{
		classRepo:       classRepo,
		reservationRepo: reservationRepo,
	}
}

// ListForMember splits the member's reservations at now.
// Upcoming: booked, and the class date is not before now.
// Past: cancelled, or the class date is before now, or the class is missing.
// Both lists are newest first, ties broken by reservation ID.
func (s *bookingQueryService) ListForMember(ctx context.Context, memberID primitive.ObjectID, now time.Time) (*domain.MemberBookings, error) {
	if memberID == primitive.NilObjectID {
		return nil, errors.New("member ID is required")
	}

	reservations, err := s.reservationRepo.ListByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reservations, func(i, j int) bool {
		a, b := reservations[i], reservations[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) > 0
	})

	classes, err := s.classesByID(ctx, reservations)
	if err != nil {
		return nil, err
	}

	result := &domain.MemberBookings{
		Upcoming: []domain.ReservationView{},
		Past:     []domain.ReservationView{},
	}
	for _, reservation := range reservations {
		view := domain.ReservationView{Reservation: reservation, Class: classes[reservation.ClassID]}
		if isUpcoming(view, now) {
			result.Upcoming = append(result.Upcoming, view)
		} else {
			result.Past = append(result.Past, view)
		}
	}
	return result, nil
}

func isUpcoming(view domain.ReservationView, now time.Time) bool {
	return view.IsBooked() && view.Class != nil && !view.Class.Date.Before(now)
}

func (s *bookingQueryService) classesByID(ctx context.Context, reservations []domain.Reservation) (map[primitive.ObjectID]*domain.FitnessClass, error) {
	seen := make(map[primitive.ObjectID]bool, len(reservations))
	ids := make([]primitive.ObjectID, 0, len(reservations))
	for _, r := range reservations {
		if !seen[r.ClassID] {
			seen[r.ClassID] = true
			ids = append(ids, r.ClassID)
		}
	}

	classes, err := s.classRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]*domain.FitnessClass, len(classes))
	for i := range classes {
		byID[classes[i].ID] = &classes[i]
	}
	return byID, nil
}
