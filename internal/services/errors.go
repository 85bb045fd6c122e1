package services

import (
	"errors"
	"strings"
)

// ErrorKind classifies a service failure for the transport layer
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindConflict         ErrorKind = "CONFLICT"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindForbidden        ErrorKind = "FORBIDDEN"
	KindGateway          ErrorKind = "PAYMENT_GATEWAY_ERROR"
	KindInvalidSignature ErrorKind = "INVALID_SIGNATURE"
	KindInternal         ErrorKind = "INTERNAL_ERROR"
)

// Failure reasons returned to callers
const (
	ReasonSameStations        = "start and end stations must be different"
	ReasonTicketCount         = "number of tickets must be between 1 and %d"
	ReasonTripNotFound        = "trip not found"
	ReasonNotEnoughSeats      = "not enough seats available"
	ReasonStationsNotOnTrip   = "stations do not belong to this trip"
	ReasonStationOrder        = "start station must come before end station"
	ReasonPassengerNotFound   = "passenger not found"
	ReasonBookingNotFound     = "booking not found"
	ReasonNotBookingOwner     = "booking does not belong to this passenger"
	ReasonAlreadyCancelled    = "booking already cancelled"
	ReasonTicketsUsed         = "cannot cancel a booking with used tickets"
	ReasonAlreadyPaid         = "booking already paid"
	ReasonNotPending          = "booking is not awaiting payment"
	ReasonAmountMismatch      = "amount does not match booking total"
	ReasonIntentNotFound      = "payment intent not found"
	ReasonIntentMismatch      = "payment intent does not belong to this booking"
	ReasonCancelledBeforePaid = "booking was cancelled before payment completed"
	ReasonPaymentProvider     = "payment provider unavailable"
	ReasonInvalidSignature    = "invalid webhook signature"
	ReasonMalformedEvent      = "malformed webhook event"
	ReasonTicketsNotIssued    = "tickets have not been issued for this booking"
	ReasonRefundAmount        = "refund amount must be greater than zero"
	ReasonInternal            = "internal server error"
)

// Error is the failure result of a core operation. Reasons are safe to show to
// callers; Err is the underlying cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Reasons []string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindInternal for untyped errors
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// ReasonsOf returns the caller-safe reasons of err
func ReasonsOf(err error) []string {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Kind != KindInternal {
		return svcErr.Reasons
	}
	return []string{ReasonInternal}
}

// HasReason reports whether err carries reason
func HasReason(err error, reason string) bool {
	for _, r := range ReasonsOf(err) {
		if r == reason {
			return true
		}
	}
	return false
}

func newError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reasons: []string{reason}}
}

func validationError(reason string) *Error { return newError(KindValidation, reason) }
func conflictError(reason string) *Error   { return newError(KindConflict, reason) }
func notFoundError(reason string) *Error   { return newError(KindNotFound, reason) }
func forbiddenError(reason string) *Error  { return newError(KindForbidden, reason) }

func gatewayError(err error) *Error {
	return &Error{Kind: KindGateway, Reasons: []string{ReasonPaymentProvider}, Err: err}
}

func internalError(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return &Error{Kind: KindInternal, Reasons: []string{ReasonInternal}, Err: err}
}
