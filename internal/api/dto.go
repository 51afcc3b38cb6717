package api

import (
	"alcyxob/fitness-booking/internal/domain"
	"time"
)

// ClassResponse is a class as returned to clients, with the derived seat count.
type ClassResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Trainer       string    `json:"trainer"`
	Description   string    `json:"description"`
	Date          time.Time `json:"date"`
	Time          string    `json:"time"`
	Duration      int       `json:"duration"`
	Capacity      int       `json:"capacity"`
	OccupiedSeats int       `json:"occupiedSeats"`
	SpotsLeft     int       `json:"spotsLeft"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ReservationResponse embeds the class when it was loaded.
type ReservationResponse struct {
	ID           string         `json:"id"`
	MemberID     string         `json:"memberId"`
	ClassID      string         `json:"classId"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	FitnessClass *ClassResponse `json:"fitnessClass,omitempty"`
}

type MyBookingsResponse struct {
	Upcoming []ReservationResponse `json:"upcoming"`
	Past     []ReservationResponse `json:"past"`
}

func mapClassToResponse(c *domain.FitnessClass) ClassResponse {
	return ClassResponse{
		ID:            c.ID.Hex(),
		Title:         c.Title,
		Trainer:       c.Trainer,
		Description:   c.Description,
		Date:          c.Date,
		Time:          c.Time,
		Duration:      c.Duration,
		Capacity:      c.Capacity,
		OccupiedSeats: c.OccupiedSeats,
		SpotsLeft:     c.SpotsLeft(),
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func mapClassesToResponse(classes []domain.FitnessClass) []ClassResponse {
	res := make([]ClassResponse, len(classes))
	for i := range classes {
		res[i] = mapClassToResponse(&classes[i])
	}
	return res
}

func mapReservationToResponse(r *domain.Reservation, class *domain.FitnessClass) ReservationResponse {
	res := ReservationResponse{
		ID:        r.ID.Hex(),
		MemberID:  r.MemberID.Hex(),
		ClassID:   r.ClassID.Hex(),
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if class != nil {
		cr := mapClassToResponse(class)
		res.FitnessClass = &cr
	}
	return res
}

func mapViewsToResponse(views []domain.ReservationView) []ReservationResponse {
	res := make([]ReservationResponse, len(views))
	for i := range views {
		res[i] = mapReservationToResponse(&views[i].Reservation, views[i].Class)
	}
	return res
}
