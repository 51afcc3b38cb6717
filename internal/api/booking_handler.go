package api

import (
	"alcyxob/fitness-booking/internal/service"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type BookingHandler struct {
	bookingService service.BookingService
	queryService   service.BookingQueryService
	now            func() time.Time
}

func NewBookingHandler(bookingService service.BookingService, queryService service.BookingQueryService, now func() time.Time) *BookingHandler {
	if now == nil {
		now = time.Now
	}
	return &BookingHandler{bookingService: bookingService, queryService: queryService, now: now}
}

type ReserveRequest struct {
	ClassID string `json:"classId" binding:"required"`
}

// Reserve godoc
// @Summary Book a seat in a class
// @Tags Bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param booking body ReserveRequest true "Class to book"
// @Success 201 {object} ReservationResponse
// @Failure 400 {object} gin.H "Invalid ID, class full or already booked"
// @Failure 404 {object} gin.H "Class not found or not active"
// @Router /bookings [post]
func (h *BookingHandler) Reserve(c *gin.Context) {
	memberID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "Unable to identify member.")
		return
	}

	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	classID, err := primitive.ObjectIDFromHex(req.ClassID)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidID, "Invalid class ID format.")
		return
	}

	reservation, err := h.bookingService.Reserve(c.Request.Context(), memberID, classID)
	if err != nil {
		respondServiceError(c, "book class", err)
		return
	}
	c.JSON(http.StatusCreated, mapReservationToResponse(reservation, nil))
}

// Cancel godoc
// @Summary Cancel one of my reservations
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Reservation ObjectID Hex"
// @Success 200 {object} gin.H
// @Failure 400 {object} gin.H "Invalid ID or already cancelled"
// @Failure 403 {object} gin.H "Reservation belongs to another member"
// @Failure 404 {object} gin.H "Reservation not found"
// @Router /bookings/{id}/cancel [patch]
func (h *BookingHandler) Cancel(c *gin.Context) {
	memberID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "Unable to identify member.")
		return
	}
	reservationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidID, "Invalid reservation ID format.")
		return
	}

	reservation, err := h.bookingService.Cancel(c.Request.Context(), reservationID, memberID)
	if err != nil {
		respondServiceError(c, "cancel reservation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Reservation cancelled",
		"reservation": mapReservationToResponse(reservation, nil),
	})
}

// MyBookings godoc
// @Summary List my reservations split into upcoming and past
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MyBookingsResponse
// @Router /bookings/me [get]
func (h *BookingHandler) MyBookings(c *gin.Context) {
	memberID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "Unable to identify member.")
		return
	}

	bookings, err := h.queryService.ListForMember(c.Request.Context(), memberID, h.now())
	if err != nil {
		respondServiceError(c, "retrieve bookings", err)
		return
	}
	c.JSON(http.StatusOK, MyBookingsResponse{
		Upcoming: mapViewsToResponse(bookings.Upcoming),
		Past:     mapViewsToResponse(bookings.Past),
	})
}
