package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketCodeLength is the number of characters in a ticket code
const TicketCodeLength = 4

// Ticket is one redeemable seat of a paid booking
type Ticket struct {
	BaseEntity
	BookingID    *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	TripID       uuid.UUID  `json:"trip_id" db:"trip_id"`
	PassengerID  uuid.UUID  `json:"passenger_id" db:"passenger_id"`
	SeatIndex    int        `json:"seat_index" db:"seat_index"`
	Price        float64    `json:"price" db:"price"`
	TicketCode   string     `json:"ticket_code" db:"ticket_code"`
	IsUsed       bool       `json:"is_used" db:"is_used"`
	PurchaseDate time.Time  `json:"purchase_date" db:"purchase_date"`
}

// TicketIDs returns the ids of tickets in order
func TicketIDs(tickets []Ticket) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	return ids
}
