package database

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrInsufficientSeats is returned when a conditional seat decrement matched no row
	ErrInsufficientSeats = errors.New("not enough seats available")
	// ErrTicketCodeConflict is returned when a generated ticket code collides with an unused ticket
	ErrTicketCodeConflict = errors.New("ticket code already in use")
	// ErrTicketsAlreadyIssued is returned when a second ticket batch is inserted for a booking
	ErrTicketsAlreadyIssued = errors.New("tickets already issued for booking")
	// ErrIntentBookingConflict is returned when a payment intent id is already linked to another booking
	ErrIntentBookingConflict = errors.New("payment intent is linked to another booking")
	// ErrTripNotFound is returned when seats are released on an unknown trip
	ErrTripNotFound = errors.New("trip not found")
)

const (
	uniqueViolation = "23505"

	constraintTicketCode  = "tickets_active_code_key"
	constraintTicketBatch = "tickets_booking_seat_key"
)

// mapTicketInsertError converts unique violations on the tickets table to sentinels
func mapTicketInsertError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintTicketCode:
		return ErrTicketCodeConflict
	case constraintTicketBatch:
		return ErrTicketsAlreadyIssued
	}
	return err
}
