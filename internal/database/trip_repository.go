package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-backend/internal/models"
)

// TripRepository owns the trip seat inventory
type TripRepository struct {
	db Queryer
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db Queryer) *TripRepository {
	return &TripRepository{db: db}
}

// GetTrip returns the trip with its stations ordered by sequence number
func (r *TripRepository) GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	trip := &models.Trip{}
	query := `
		SELECT id, available_seats, price, departure_time, created_at, updated_at, is_deleted
		FROM trips
		WHERE id = $1 AND is_deleted = FALSE`

	if err := r.db.GetContext(ctx, trip, query, tripID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}

	stationsQuery := `
		SELECT trip_id, station_id, sequence_number, arrival_time, departure_time
		FROM trip_stations
		WHERE trip_id = $1
		ORDER BY sequence_number ASC`

	if err := r.db.SelectContext(ctx, &trip.Stations, stationsQuery, tripID); err != nil {
		return nil, fmt.Errorf("failed to get trip stations: %w", err)
	}

	return trip, nil
}

// ReserveSeats atomically takes seats from the trip. The availability check and
// the decrement are one statement, so concurrent callers can never oversell.
func (r *TripRepository) ReserveSeats(ctx context.Context, tripID uuid.UUID, seats int) error {
	query := `
		UPDATE trips
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE AND available_seats >= $2`

	result, err := r.db.ExecContext(ctx, query, tripID, seats)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	if rows == 0 {
		return ErrInsufficientSeats
	}
	return nil
}

// ReleaseSeats returns seats to the trip
func (r *TripRepository) ReleaseSeats(ctx context.Context, tripID uuid.UUID, seats int) error {
	query := `
		UPDATE trips
		SET available_seats = available_seats + $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, tripID, seats)
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	if rows == 0 {
		return ErrTripNotFound
	}
	return nil
}
