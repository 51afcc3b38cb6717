package api

import (
	"alcyxob/fitness-booking/internal/lock"
	"alcyxob/fitness-booking/internal/service"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Machine-readable error codes returned in the "code" field.
const (
	codeBadRequest      = "bad_request"
	codeInvalidID       = "invalid_id"
	codeUnauthorized    = "unauthorized"
	codeForbidden       = "forbidden"
	codeNotFound        = "not_found"
	codeInternal        = "internal_error"
	codeRateLimited     = "too_many_requests"
	codeClassNotFound   = "class_not_found"
	codeClassNotActive  = "class_not_active"
	codeClassFull       = "class_full"
	codeAlreadyBooked   = "already_booked"
	codeResNotFound     = "reservation_not_found"
	codeNotOwner        = "not_reservation_owner"
	codeAlreadyCanceled = "already_cancelled"
	codeInvalidClass    = "invalid_class"
	codeCapacityBelow   = "capacity_below_occupancy"
	codeExportDisabled  = "export_disabled"
	codeClassBusy       = "class_busy"
)

// abortWithError writes {"error": message, "code": code} and aborts the request.
func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}

// serviceErrorStatus maps expected service outcomes to a status and code.
// ok is false for anything unexpected.
func serviceErrorStatus(err error) (status int, code string, ok bool) {
	switch {
	case errors.Is(err, service.ErrClassNotFound):
		return http.StatusNotFound, codeClassNotFound, true
	case errors.Is(err, service.ErrClassNotActive):
		return http.StatusNotFound, codeClassNotActive, true
	case errors.Is(err, service.ErrClassFull):
		return http.StatusBadRequest, codeClassFull, true
	case errors.Is(err, service.ErrAlreadyBooked):
		return http.StatusBadRequest, codeAlreadyBooked, true
	case errors.Is(err, service.ErrReservationNotFound):
		return http.StatusNotFound, codeResNotFound, true
	case errors.Is(err, service.ErrNotReservationOwner):
		return http.StatusForbidden, codeNotOwner, true
	case errors.Is(err, service.ErrAlreadyCancelled):
		return http.StatusBadRequest, codeAlreadyCanceled, true
	case errors.Is(err, service.ErrInvalidClass):
		return http.StatusBadRequest, codeInvalidClass, true
	case errors.Is(err, service.ErrCapacityBelowOccupancy):
		return http.StatusBadRequest, codeCapacityBelow, true
	case errors.Is(err, service.ErrExportDisabled):
		return http.StatusServiceUnavailable, codeExportDisabled, true
	case errors.Is(err, lock.ErrLockTimeout):
		return http.StatusServiceUnavailable, codeClassBusy, true
	}
	return http.StatusInternalServerError, codeInternal, false
}

// respondServiceError answers with the mapped status. Unexpected errors are
// logged and hidden behind a generic message.
func respondServiceError(c *gin.Context, action string, err error) {
	status, code, ok := serviceErrorStatus(err)
	if !ok {
		log.Printf("ERROR: %s: %v", action, err)
		abortWithError(c, status, code, "Failed to "+action)
		return
	}
	if code == codeClassBusy {
		log.Printf("WARN: %s: %v", action, err)
		c.Header("Retry-After", "1")
	}
	abortWithError(c, status, code, err.Error())
}
