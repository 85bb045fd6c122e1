package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PassengerRepository looks up passenger profiles owned by the identity service
type PassengerRepository struct {
	db Queryer
}

// NewPassengerRepository creates a new passenger repository
func NewPassengerRepository(db Queryer) *PassengerRepository {
	return &PassengerRepository{db: db}
}

// PassengerExists reports whether a passenger profile exists for the user id
func (r *PassengerRepository) PassengerExists(ctx context.Context, passengerID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM passengers WHERE user_id = $1)`

	if err := r.db.GetContext(ctx, &exists, query, passengerID); err != nil {
		return false, fmt.Errorf("failed to check passenger: %w", err)
	}
	return exists, nil
}
