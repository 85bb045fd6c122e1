package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider-side payment intent states mirrored locally
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// PaymentIntent is the local mirror of a provider payment intent.
// ID is the provider's id and is unique, so an intent maps to at most one booking.
type PaymentIntent struct {
	ID        string    `json:"id" db:"id"`
	BookingID uuid.UUID `json:"booking_id" db:"booking_id"`
	Amount    float64   `json:"amount" db:"amount"`
	Currency  string    `json:"currency" db:"currency"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsOpen reports whether the intent can still be paid
func (p *PaymentIntent) IsOpen() bool {
	switch p.Status {
	case IntentStatusSucceeded, IntentStatusCanceled:
		return false
	}
	return true
}
