package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// bookingTransitions lists the allowed next states for each state.
// Cancelled is terminal.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCancelled},
	BookingStatusCancelled: {},
}

// CanTransitionTo reports whether a booking in status s may move to next
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// Booking is a passenger's reservation of NumberOfTickets seats on a trip.
// Seats are deducted from the trip when the booking is created.
type Booking struct {
	BaseEntity
	PassengerID        uuid.UUID     `json:"passenger_id" db:"passenger_id"`
	TripID             uuid.UUID     `json:"trip_id" db:"trip_id"`
	StartStationID     uuid.UUID     `json:"start_station_id" db:"start_station_id"`
	EndStationID       uuid.UUID     `json:"end_station_id" db:"end_station_id"`
	NumberOfTickets    int           `json:"number_of_tickets" db:"number_of_tickets"`
	TotalPrice         float64       `json:"total_price" db:"total_price"`
	Status             BookingStatus `json:"status" db:"status"`
	IsPaid             bool          `json:"is_paid" db:"is_paid"`
	BookingDate        time.Time     `json:"booking_date" db:"booking_date"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason *string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
}

// BookingWithTickets is the read model returned to the booking owner
type BookingWithTickets struct {
	Booking
	Tickets []Ticket `json:"tickets"`
}
