// Package payment adapts external payment providers to the booking pipeline.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
)

// Metadata keys that bind a provider intent to a booking
const (
	MetadataBookingID   = "booking_id"
	MetadataPassengerID = "passenger_id"
	MetadataTripID      = "trip_id"
)

// Webhook event types the reconciler acts on
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

var (
	// ErrRateLimited marks a provider response that asked the caller to slow down
	ErrRateLimited = errors.New("payment provider rate limit exceeded")
	// ErrInvalidSignature is returned when a webhook payload fails verification
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when a verified webhook payload cannot be decoded
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrNotConfigured is returned when no provider credentials are set
	ErrNotConfigured = errors.New("payment provider not configured")
)

// Provider is the narrow surface the booking pipeline needs from a payment provider
type Provider interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) (*Intent, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// CreateIntentRequest describes a new payment intent. Amount is in major units.
type CreateIntentRequest struct {
	Amount         float64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is a provider payment intent
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"-"`
	Amount       float64           `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
}

// BookingID returns the booking id stored in the intent metadata
func (i *Intent) BookingID() string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	return i.Metadata[MetadataBookingID]
}

// RefundRequest describes a refund. A nil Amount refunds the full charge.
type RefundRequest struct {
	IntentID string
	Amount   *float64
	Currency string
	Reason   string
}

// Refund is a provider refund
type Refund struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
}

// Event is a verified webhook event. Intent is set for payment_intent.* events.
type Event struct {
	ID     string
	Type   string
	Intent *Intent
}

// ProviderError is a failed provider call
type ProviderError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment provider %s failed (%d %s): %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payment provider %s failed: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports rate limit responses as ErrRateLimited
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.RateLimited()
}

// RateLimited reports whether the provider rejected the call for rate limiting
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == "rate_limit"
}

var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// ToMinorUnits converts a major-unit amount to the provider's integer representation
func ToMinorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts a provider integer amount to major units
func FromMinorUnits(amount int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}
