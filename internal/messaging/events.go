package messaging

import (
	"time"

	"github.com/google/uuid"
)

// BookingEvent is the payload of every booking subject
type BookingEvent struct {
	BookingID       uuid.UUID `json:"booking_id"`
	PassengerID     uuid.UUID `json:"passenger_id"`
	TripID          uuid.UUID `json:"trip_id"`
	Status          string    `json:"status"`
	NumberOfTickets int       `json:"number_of_tickets"`
	TotalPrice      float64   `json:"total_price"`
	TicketCodes     []string  `json:"ticket_codes,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
