package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-backend/internal/models"
)

// TicketRepository handles ticket database operations
type TicketRepository struct {
	db Queryer
}

// NewTicketRepository creates a new TicketRepository
func NewTicketRepository(db Queryer) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketInsertColumns = 11

// InsertTickets persists a ticket batch in one statement.
// Returns ErrTicketCodeConflict or ErrTicketsAlreadyIssued on unique violations.
func (r *TicketRepository) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO tickets (
			id, booking_id, trip_id, passenger_id, seat_index, price,
			ticket_code, is_used, purchase_date, created_at, updated_at
		) VALUES `)

	args := make([]interface{}, 0, len(tickets)*ticketInsertColumns)
	for i, t := range tickets {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * ticketInsertColumns
		placeholders := make([]string, ticketInsertColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		sb.WriteString("(" + strings.Join(placeholders, ", ") + ")")
		args = append(args,
			t.ID, t.BookingID, t.TripID, t.PassengerID, t.SeatIndex, t.Price,
			t.TicketCode, t.IsUsed, t.PurchaseDate, t.CreatedAt, t.UpdatedAt,
		)
	}

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		if mapped := mapTicketInsertError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to insert tickets: %w", err)
	}
	return nil
}

// ListTicketsByBooking returns a booking's tickets in seat order
func (r *TicketRepository) ListTicketsByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	query := `
		SELECT id, booking_id, trip_id, passenger_id, seat_index, price,
		       ticket_code, is_used, purchase_date, created_at, updated_at, is_deleted
		FROM tickets
		WHERE booking_id = $1 AND is_deleted = FALSE
		ORDER BY seat_index ASC`

	if err := r.db.SelectContext(ctx, &tickets, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// HasUsedTickets reports whether any ticket of the booking has been redeemed
func (r *TicketRepository) HasUsedTickets(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	var used bool
	query := `SELECT EXISTS(SELECT 1 FROM tickets WHERE booking_id = $1 AND is_used = TRUE)`
	if err := r.db.GetContext(ctx, &used, query, bookingID); err != nil {
		return false, fmt.Errorf("failed to check used tickets: %w", err)
	}
	return used, nil
}

// TicketCodeInUse reports whether an unused ticket already carries the code
func (r *TicketRepository) TicketCodeInUse(ctx context.Context, code string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM tickets WHERE ticket_code = $1 AND is_used = FALSE`
	if err := r.db.GetContext(ctx, &count, query, code); err != nil {
		return false, fmt.Errorf("failed to check ticket code uniqueness: %w", err)
	}
	return count > 0, nil
}
