package service

import "errors"

// --- Error Definitions ---
// Expected outcomes of booking and catalog operations. Handlers map them to
// HTTP statuses; anything else is an internal error.
var (
	ErrClassNotFound  = errors.New("class not found")
	ErrClassNotActive = errors.New("class is not active")
	ErrClassFull      = errors.New("class is full")
	ErrAlreadyBooked  = errors.New("you have already booked this class")

	ErrReservationNotFound = errors.New("reservation not found")
	ErrNotReservationOwner = errors.New("you can only cancel your own reservations")
	ErrAlreadyCancelled    = errors.New("reservation is already cancelled")

	ErrInvalidClass           = errors.New("invalid class")
	ErrCapacityBelowOccupancy = errors.New("capacity cannot be lower than the number of booked seats")

	ErrExportDisabled = errors.New("roster export is not configured")
)
