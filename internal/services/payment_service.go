package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/smarttransit/booking-backend/pkg/payment"
)

// PaymentServiceConfig holds configuration for the payment service
type PaymentServiceConfig struct {
	DefaultCurrency string // ISO currency code used when the client sends none (default lkr)
}

// DefaultPaymentServiceConfig returns default configuration
func DefaultPaymentServiceConfig() PaymentServiceConfig {
	return PaymentServiceConfig{DefaultCurrency: "lkr"}
}

// CreateIntentInput asks for a payment intent covering a booking. Amount 0
// means the booking total.
type CreateIntentInput struct {
	BookingID   uuid.UUID
	PassengerID uuid.UUID
	Amount      float64
	Currency    string
	Meta        models.RequestMeta
}

// IntentResult is what the client needs to collect payment
type IntentResult struct {
	IntentID     string  `json:"payment_intent_id"`
	ClientSecret string  `json:"client_secret"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Status       string  `json:"status"`
	Reused       bool    `json:"reused"`
}

// ConfirmPaymentInput is a client's claim that an intent was paid for a booking
type ConfirmPaymentInput struct {
	IntentID    string
	BookingID   uuid.UUID
	PassengerID uuid.UUID
	Meta        models.RequestMeta
}

// PaymentResult is the outcome of a confirm. Success is false while the intent
// has not succeeded.
type PaymentResult struct {
	Success       bool        `json:"success"`
	Status        string      `json:"status"`
	BookingID     uuid.UUID   `json:"booking_id"`
	TicketIDs     []uuid.UUID `json:"ticket_ids,omitempty"`
	TicketCodes   []string    `json:"ticket_codes,omitempty"`
	AlreadyIssued bool        `json:"already_issued"`
	Message       string      `json:"message"`
}

// PaymentStatusResult is the provider view of an intent
type PaymentStatusResult struct {
	IntentID  string  `json:"payment_intent_id"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	BookingID string  `json:"booking_id,omitempty"`
}

// RefundInput is an admin refund request. A nil Amount refunds in full.
type RefundInput struct {
	IntentID string
	Amount   *float64
	Reason   string
	AdminID  uuid.UUID
	Meta     models.RequestMeta
}

// PaymentService drives the provider side of the booking lifecycle
type PaymentService struct {
	store    database.Store
	provider payment.Provider
	issuer   *TicketIssuer
	config   PaymentServiceConfig
	logger   *logrus.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store database.Store,
	provider payment.Provider,
	issuer *TicketIssuer,
	config PaymentServiceConfig,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		store:    store,
		provider: provider,
		issuer:   issuer,
		config:   config,
		logger:   logger,
	}
}

// ============================================================================
// CREATE INTENT
// ============================================================================

// CreateIntent creates (or reuses) a provider intent for a pending booking
func (s *PaymentService) CreateIntent(ctx context.Context, in CreateIntentInput) (*IntentResult, error) {
	startTime := time.Now()

	// 1. Booking must be the caller's and awaiting payment
	booking, err := s.ownedBooking(ctx, in.BookingID, in.PassengerID)
	if err != nil {
		return nil, err
	}
	if booking.IsPaid {
		return nil, conflictError(ReasonAlreadyPaid)
	}
	if booking.Status != models.BookingStatusPending {
		return nil, conflictError(ReasonNotPending)
	}

	// 2. Amount is always the booking total
	amount := in.Amount
	if amount == 0 {
		amount = booking.TotalPrice
	}
	if !models.AmountsEqual(amount, booking.TotalPrice) {
		return nil, validationError(ReasonAmountMismatch)
	}
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	// 3. Reuse an open intent for the same charge
	if reused, err := s.reuseOpenIntent(ctx, booking.ID, amount, currency); err != nil {
		return nil, err
	} else if reused != nil {
		return reused, nil
	}

	// 4. Create at the provider
	intent, err := s.provider.CreateIntent(ctx, payment.CreateIntentRequest{
		Amount:      amount,
		Currency:    currency,
		Description: fmt.Sprintf("Bus booking %s (%d tickets)", booking.ID, booking.NumberOfTickets),
		Metadata: map[string]string{
			payment.MetadataBookingID:   booking.ID.String(),
			payment.MetadataPassengerID: booking.PassengerID.String(),
			payment.MetadataTripID:      booking.TripID.String(),
		},
		IdempotencyKey: fmt.Sprintf("booking-%s-%s", booking.ID, uuid.NewString()),
	})
	if err != nil {
		audit := models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceStripeAPI).
			SetBooking(booking.ID).
			SetError(err.Error(), "create_intent_failed").
			SetMetadata(in.Meta).
			SetProcessingTime(startTime)
		s.audit(ctx, audit)
		return nil, s.providerFailure(err)
	}

	// 5. Mirror locally
	mirror := &models.PaymentIntent{
		ID:        intent.ID,
		BookingID: booking.ID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Status:    intent.Status,
	}
	if err := s.store.SavePaymentIntent(ctx, mirror); err != nil {
		if errors.Is(err, database.ErrIntentBookingConflict) {
			s.logger.WithFields(logrus.Fields{
				"booking_id": booking.ID,
				"intent_id":  intent.ID,
			}).Error("Provider returned an intent linked to another booking")
		}
		return nil, internalError(err)
	}

	audit := models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceUser).
		SetBooking(booking.ID).
		SetIntent(intent.ID).
		SetPaymentStatus(intent.Status).
		SetMetadata(in.Meta).
		SetProcessingTime(startTime)
	audit.SetAmounts(booking.TotalPrice, intent.Amount, intent.Currency)
	s.audit(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"intent_id":  intent.ID,
		"amount":     intent.Amount,
		"currency":   intent.Currency,
	}).Info("Payment intent created")

	return &IntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Status:       intent.Status,
	}, nil
}

func (s *PaymentService) reuseOpenIntent(ctx context.Context, bookingID uuid.UUID, amount float64, currency string) (*IntentResult, error) {
	intents, err := s.store.ListPaymentIntentsByBooking(ctx, bookingID)
	if err != nil {
		return nil, internalError(err)
	}

	var open *models.PaymentIntent
	for i := range intents {
		if intents[i].Status == models.IntentStatusSucceeded {
			return nil, s.settlePaid(ctx, bookingID, intents[i].ID)
		}
		if open == nil && intents[i].IsOpen() {
			open = &intents[i]
		}
	}
	if open == nil {
		return nil, nil
	}

	intent, err := s.provider.GetIntent(ctx, open.ID)
	if err != nil {
		return nil, s.providerFailure(err)
	}
	if intent.Status != open.Status {
		s.refreshMirror(ctx, intent)
	}
	switch intent.Status {
	case models.IntentStatusSucceeded:
		return nil, s.settlePaid(ctx, bookingID, intent.ID)
	case models.IntentStatusCanceled:
		return nil, nil
	}
	if !models.AmountsEqual(open.Amount, amount) || open.Currency != currency {
		return nil, nil
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"intent_id":  intent.ID,
	}).Info("Reusing open payment intent")

	return &IntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Status:       intent.Status,
		Reused:       true,
	}, nil
}

// settlePaid issues the tickets of a booking whose charge already succeeded
func (s *PaymentService) settlePaid(ctx context.Context, bookingID uuid.UUID, intentID string) error {
	if _, err := s.issuer.Issue(ctx, bookingID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"intent_id":  intentID,
	}).Info("Booking already paid, tickets issued instead of a new intent")
	return conflictError(ReasonAlreadyPaid)
}

// ============================================================================
// CONFIRM
// ============================================================================

// ConfirmPayment checks the intent with the provider and issues tickets once it succeeded
func (s *PaymentService) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*PaymentResult, error) {
	startTime := time.Now()
	logger := s.logger.WithFields(logrus.Fields{
		"booking_id": in.BookingID,
		"intent_id":  in.IntentID,
	})

	// 1. Booking must be the caller's
	booking, err := s.ownedBooking(ctx, in.BookingID, in.PassengerID)
	if err != nil {
		return nil, err
	}

	// 2. Ask the provider, never trust the client
	intent, err := s.provider.GetIntent(ctx, in.IntentID)
	if err != nil {
		return nil, s.providerFailure(err)
	}

	// 3. Intent must have been created for this booking
	if intent.BookingID() != booking.ID.String() {
		audit := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceUser).
			SetBooking(booking.ID).
			SetIntent(intent.ID).
			SetPaymentStatus(intent.Status).
			SetError(fmt.Sprintf("intent metadata booking_id %q", intent.BookingID()), "booking_mismatch").
			SetMetadata(in.Meta)
		s.audit(ctx, audit)
		logger.Warn("Payment intent presented for the wrong booking")
		return nil, validationError(ReasonIntentMismatch)
	}

	s.refreshMirror(ctx, intent)

	if intent.Status != models.IntentStatusSucceeded {
		audit := models.NewPaymentAudit(models.PaymentEventNotCompleted, models.PaymentSourceUser).
			SetBooking(booking.ID).
			SetIntent(intent.ID).
			SetPaymentStatus(intent.Status).
			SetMetadata(in.Meta).
			SetProcessingTime(startTime)
		s.audit(ctx, audit)

		return &PaymentResult{
			Success:   false,
			Status:    intent.Status,
			BookingID: booking.ID,
			Message:   "payment not completed",
		}, nil
	}

	// 4. Amount paid must cover the booking
	audit := models.NewPaymentAudit(models.PaymentEventConfirmed, models.PaymentSourceUser).
		SetBooking(booking.ID).
		SetIntent(intent.ID).
		SetPaymentStatus(intent.Status).
		SetMetadata(in.Meta)
	if !audit.SetAmounts(booking.TotalPrice, intent.Amount, intent.Currency) {
		audit.EventType = models.PaymentEventReconciliationMismatch
		audit.SetError("paid amount differs from booking total", "amount_mismatch")
		s.audit(ctx, audit.SetProcessingTime(startTime))
		logger.WithFields(logrus.Fields{
			"expected": booking.TotalPrice,
			"received": intent.Amount,
		}).Error("Payment amount mismatch")
		return nil, validationError(ReasonAmountMismatch)
	}

	// 5. Issue tickets
	result, err := s.issuer.Issue(ctx, booking.ID)
	if err != nil {
		if HasReason(err, ReasonCancelledBeforePaid) {
			mismatch := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceUser).
				SetBooking(booking.ID).
				SetIntent(intent.ID).
				SetPaymentStatus(intent.Status).
				SetError(ReasonCancelledBeforePaid, "cancelled_before_paid").
				SetMetadata(in.Meta)
			s.audit(ctx, mismatch)
			logger.Error("Payment succeeded for a cancelled booking, manual refund required")
		}
		return nil, err
	}

	s.audit(ctx, audit.SetProcessingTime(startTime))
	if !result.AlreadyIssued {
		issued := models.NewPaymentAudit(models.PaymentEventTicketsIssued, models.PaymentSourceUser).
			SetBooking(booking.ID).
			SetIntent(intent.ID).
			SetMetadata(in.Meta)
		s.audit(ctx, issued)
	}

	return paymentResult(result, intent.Status), nil
}

// StatusSimulated is the payment status reported for simulated confirms
const StatusSimulated = "simulated"

// ConfirmSimulated marks an owned booking paid without asking the provider.
// Callers gate it behind PAYMENT_ALLOW_SIMULATED.
func (s *PaymentService) ConfirmSimulated(ctx context.Context, bookingID, passengerID uuid.UUID, meta models.RequestMeta) (*PaymentResult, error) {
	booking, err := s.ownedBooking(ctx, bookingID, passengerID)
	if err != nil {
		return nil, err
	}

	result, err := s.issuer.Issue(ctx, booking.ID)
	if err != nil {
		return nil, err
	}

	audit := models.NewPaymentAudit(models.PaymentEventConfirmed, models.PaymentSourceUser).
		SetBooking(booking.ID).
		SetPaymentStatus(StatusSimulated).
		SetMetadata(meta)
	s.audit(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"passenger_id": passengerID,
	}).Warn("Booking confirmed by simulated payment")

	return paymentResult(result, StatusSimulated), nil
}

func paymentResult(result *IssueResult, status string) *PaymentResult {
	codes := make([]string, 0, len(result.Tickets))
	for _, t := range result.Tickets {
		codes = append(codes, t.TicketCode)
	}
	message := "payment confirmed, tickets issued"
	if result.AlreadyIssued {
		message = "payment already confirmed"
	}
	return &PaymentResult{
		Success:       true,
		Status:        status,
		BookingID:     result.Booking.ID,
		TicketIDs:     result.TicketIDs(),
		TicketCodes:   codes,
		AlreadyIssued: result.AlreadyIssued,
		Message:       message,
	}
}

// ============================================================================
// STATUS AND REFUND
// ============================================================================

// GetPaymentStatus returns the provider status of an intent and refreshes the mirror
func (s *PaymentService) GetPaymentStatus(ctx context.Context, intentID string) (*PaymentStatusResult, error) {
	intent, err := s.provider.GetIntent(ctx, intentID)
	if err != nil {
		return nil, s.providerFailure(err)
	}
	s.refreshMirror(ctx, intent)

	audit := models.NewPaymentAudit(models.PaymentEventStatusChecked, models.PaymentSourceStripeAPI).
		SetIntent(intent.ID).
		SetPaymentStatus(intent.Status)
	if bookingID, err := uuid.Parse(intent.BookingID()); err == nil {
		audit.SetBooking(bookingID)
	}
	s.audit(ctx, audit)

	return &PaymentStatusResult{
		IntentID:  intent.ID,
		Status:    intent.Status,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		BookingID: intent.BookingID(),
	}, nil
}

// ProcessRefund refunds a payment at the provider. Booking and ticket state is not changed.
func (s *PaymentService) ProcessRefund(ctx context.Context, in RefundInput) (*payment.Refund, error) {
	startTime := time.Now()
	if in.Amount != nil && *in.Amount <= 0 {
		return nil, validationError(ReasonRefundAmount)
	}

	mirror, err := s.store.GetPaymentIntent(ctx, in.IntentID)
	if err != nil {
		return nil, internalError(err)
	}
	currency := s.config.DefaultCurrency
	if mirror != nil {
		currency = mirror.Currency
	}

	refund, err := s.provider.Refund(ctx, payment.RefundRequest{
		IntentID: in.IntentID,
		Amount:   in.Amount,
		Currency: currency,
		Reason:   in.Reason,
	})

	audit := models.NewPaymentAudit(models.PaymentEventRefundIssued, models.PaymentSourceAdmin).
		SetIntent(in.IntentID).
		SetMetadata(in.Meta)
	if mirror != nil {
		audit.SetBooking(mirror.BookingID)
	}
	logger := s.logger.WithFields(logrus.Fields{
		"intent_id": in.IntentID,
		"admin_id":  in.AdminID,
	})

	if err != nil {
		audit.EventType = models.PaymentEventRefundFailed
		audit.SetError(err.Error(), "refund_failed")
		s.audit(ctx, audit.SetProcessingTime(startTime))
		logger.WithError(err).Error("Refund failed")
		return nil, s.providerFailure(err)
	}

	audit.SetPaymentStatus(refund.Status)
	audit.SetAmounts(refund.Amount, refund.Amount, refund.Currency)
	s.audit(ctx, audit.SetProcessingTime(startTime))
	logger.WithFields(logrus.Fields{
		"refund_id": refund.ID,
		"amount":    refund.Amount,
	}).Info("Refund issued")

	return refund, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *PaymentService) ownedBooking(ctx context.Context, bookingID, passengerID uuid.UUID) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, internalError(err)
	}
	if booking == nil {
		return nil, notFoundError(ReasonBookingNotFound)
	}
	if booking.PassengerID != passengerID {
		return nil, forbiddenError(ReasonNotBookingOwner)
	}
	return booking, nil
}

func (s *PaymentService) refreshMirror(ctx context.Context, intent *payment.Intent) {
	if err := s.store.UpdatePaymentIntentStatus(ctx, intent.ID, intent.Status); err != nil {
		s.logger.WithError(err).WithField("intent_id", intent.ID).Warn("Failed to refresh payment intent mirror")
	}
}

func (s *PaymentService) audit(ctx context.Context, audit *models.PaymentAudit) {
	// Audit failures are logged by the repository and never fail the payment flow
	_ = s.store.LogPaymentAudit(ctx, audit)
}

func (s *PaymentService) providerFailure(err error) error {
	var providerErr *payment.ProviderError
	if errors.As(err, &providerErr) && providerErr.StatusCode == http.StatusNotFound {
		return notFoundError(ReasonIntentNotFound)
	}
	s.logger.WithError(err).Error("Payment provider call failed")
	return gatewayError(err)
}
