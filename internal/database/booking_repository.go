package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-backend/internal/models"
)

// BookingRepository handles booking database operations
type BookingRepository struct {
	db Queryer
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db Queryer) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, passenger_id, trip_id, start_station_id, end_station_id,
	number_of_tickets, total_price, status, is_paid, booking_date,
	cancelled_at, cancellation_reason, created_at, updated_at, is_deleted`

// InsertBooking persists a new booking
func (r *BookingRepository) InsertBooking(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, passenger_id, trip_id, start_station_id, end_station_id,
			number_of_tickets, total_price, status, is_paid, booking_date,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		booking.ID, booking.PassengerID, booking.TripID, booking.StartStationID, booking.EndStationID,
		booking.NumberOfTickets, booking.TotalPrice, booking.Status, booking.IsPaid, booking.BookingDate,
		booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// GetBooking retrieves a booking by ID
func (r *BookingRepository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND is_deleted = FALSE`, bookingID)
}

// GetBookingForUpdate retrieves a booking and locks its row until the transaction ends
func (r *BookingRepository) GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`, bookingID)
}

func (r *BookingRepository) getBooking(ctx context.Context, query string, bookingID uuid.UUID) (*models.Booking, error) {
	booking := &models.Booking{}
	if err := r.db.GetContext(ctx, booking, query, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// ListBookingsByPassenger returns one page of a passenger's bookings, newest first, and the total count
func (r *BookingRepository) ListBookingsByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]models.Booking, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM bookings WHERE passenger_id = $1 AND is_deleted = FALSE`
	if err := r.db.GetContext(ctx, &total, countQuery, passengerID); err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	bookings := []models.Booking{}
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE passenger_id = $1 AND is_deleted = FALSE
		ORDER BY booking_date DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &bookings, query, passengerID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}

	return bookings, total, nil
}

// ListStalePendingBookings returns unpaid pending bookings created before the cutoff, oldest first
func (r *BookingRepository) ListStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'pending' AND is_paid = FALSE AND is_deleted = FALSE AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &bookings, query, createdBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	return bookings, nil
}

// MarkBookingPaid moves a pending unpaid booking to confirmed. Returns false if
// the booking was not in that state.
func (r *BookingRepository) MarkBookingPaid(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	query := `
		UPDATE bookings
		SET is_paid = TRUE, status = 'confirmed', updated_at = NOW()
		WHERE id = $1 AND is_paid = FALSE AND status = 'pending'`

	return r.execConditional(ctx, "mark booking paid", query, bookingID)
}

// CancelBooking moves a booking to cancelled. Returns false if it was already cancelled.
func (r *BookingRepository) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = NOW(), cancellation_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'`

	return r.execConditional(ctx, "cancel booking", query, bookingID, reason)
}

func (r *BookingRepository) execConditional(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	return rows > 0, nil
}
