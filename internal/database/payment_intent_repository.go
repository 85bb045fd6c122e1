package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-backend/internal/models"
)

// PaymentIntentRepository mirrors provider payment intents locally
type PaymentIntentRepository struct {
	db Queryer
}

// NewPaymentIntentRepository creates a new PaymentIntentRepository
func NewPaymentIntentRepository(db Queryer) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

// SavePaymentIntent inserts the intent or refreshes its status. An intent id
// already linked to a different booking is rejected with ErrIntentBookingConflict.
func (r *PaymentIntentRepository) SavePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (id, booking_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = NOW()
		WHERE payment_intents.booking_id = EXCLUDED.booking_id`

	result, err := r.db.ExecContext(ctx, query, intent.ID, intent.BookingID, intent.Amount, intent.Currency, intent.Status)
	if err != nil {
		return fmt.Errorf("failed to save payment intent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save payment intent: %w", err)
	}
	if rows == 0 {
		return ErrIntentBookingConflict
	}
	return nil
}

// GetPaymentIntent returns the mirrored intent
func (r *PaymentIntentRepository) GetPaymentIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	intent := &models.PaymentIntent{}
	query := `
		SELECT id, booking_id, amount, currency, status, created_at, updated_at
		FROM payment_intents
		WHERE id = $1`

	if err := r.db.GetContext(ctx, intent, query, intentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return intent, nil
}

// GetOpenPaymentIntent returns the newest intent of the booking that can still be paid
func (r *PaymentIntentRepository) GetOpenPaymentIntent(ctx context.Context, bookingID uuid.UUID) (*models.PaymentIntent, error) {
	intent := &models.PaymentIntent{}
	query := `
		SELECT id, booking_id, amount, currency, status, created_at, updated_at
		FROM payment_intents
		WHERE booking_id = $1 AND status NOT IN ('succeeded', 'canceled')
		ORDER BY created_at DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, intent, query, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open payment intent: %w", err)
	}
	return intent, nil
}

// ListPaymentIntentsByBooking returns every mirrored intent of the booking, newest first
func (r *PaymentIntentRepository) ListPaymentIntentsByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentIntent, error) {
	intents := []models.PaymentIntent{}
	query := `
		SELECT id, booking_id, amount, currency, status, created_at, updated_at
		FROM payment_intents
		WHERE booking_id = $1
		ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &intents, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	return intents, nil
}

// UpdatePaymentIntentStatus records the latest provider status
func (r *PaymentIntentRepository) UpdatePaymentIntentStatus(ctx context.Context, intentID, status string) error {
	query := `UPDATE payment_intents SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, intentID, status); err != nil {
		return fmt.Errorf("failed to update payment intent status: %w", err)
	}
	return nil
}
