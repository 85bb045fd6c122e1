package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/metrics"
	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/smarttransit/booking-backend/pkg/payment"
)

// Webhook outcomes, used as metric labels
const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeRejected  = "rejected"
	WebhookOutcomeFailed    = "failed"
)

// WebhookResult is the acknowledgement returned to the provider
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message"`
}

// WebhookService reconciles provider events with bookings
type WebhookService struct {
	store    database.Store
	provider payment.Provider
	issuer   *TicketIssuer
	bookings *BookingService
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	store database.Store,
	provider payment.Provider,
	issuer *TicketIssuer,
	bookings *BookingService,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *WebhookService {
	return &WebhookService{
		store:    store,
		provider: provider,
		issuer:   issuer,
		bookings: bookings,
		metrics:  m,
		logger:   logger,
	}
}

// HandleEvent verifies and applies one webhook delivery. A returned error of
// kind KindInternal means the provider should redeliver.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signature string, meta models.RequestMeta) (*WebhookResult, error) {
	startTime := time.Now()

	// 1. Verify signature
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return nil, s.reject(ctx, err, meta)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	result := &WebhookResult{EventID: event.ID, EventType: event.Type}

	// 2. Drop redeliveries
	processed, err := s.store.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return nil, internalError(err)
	}
	if processed {
		audit := s.eventAudit(models.PaymentEventWebhookDuplicate, event, meta).MarkAsDuplicate()
		s.audit(ctx, audit)
		s.metrics.WebhookEvent(event.Type, WebhookOutcomeDuplicate)
		logger.Info("Webhook event already processed")

		result.Outcome = WebhookOutcomeDuplicate
		result.Message = "already processed"
		return result, nil
	}

	s.audit(ctx, s.eventAudit(models.PaymentEventWebhookReceived, event, meta))

	// 3. Apply
	switch event.Type {
	case payment.EventPaymentSucceeded:
		result.Outcome, result.Message, err = s.handleSucceeded(ctx, event, meta)
	case payment.EventPaymentFailed, payment.EventPaymentCanceled:
		result.Outcome, result.Message, err = s.handleFailed(ctx, event, meta)
	default:
		result.Outcome, result.Message = WebhookOutcomeIgnored, "event type not handled"
	}
	if err != nil {
		s.metrics.WebhookEvent(event.Type, WebhookOutcomeFailed)
		logger.WithError(err).Error("Failed to process webhook event")
		return nil, internalError(err)
	}

	// 4. Record as processed
	done := s.eventAudit(models.PaymentEventWebhookProcessed, event, meta).
		SetProcessingTime(startTime)
	s.audit(ctx, done)

	s.metrics.WebhookEvent(event.Type, result.Outcome)
	logger.WithField("outcome", result.Outcome).Info("Webhook event handled")
	return result, nil
}

func (s *WebhookService) handleSucceeded(ctx context.Context, event *payment.Event, meta models.RequestMeta) (string, string, error) {
	bookingID, ok := s.eventBookingID(ctx, event, meta)
	if !ok {
		return WebhookOutcomeIgnored, "no booking metadata", nil
	}
	intent := event.Intent
	s.refreshMirror(ctx, intent)

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return "", "", err
	}
	if booking == nil {
		s.logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"booking_id": bookingID,
		}).Warn("Webhook references unknown booking")
		return WebhookOutcomeIgnored, ReasonBookingNotFound, nil
	}

	audit := models.NewPaymentAudit(models.PaymentEventConfirmed, models.PaymentSourceStripeWebhook).
		SetBooking(bookingID).
		SetIntent(intent.ID).
		SetPaymentStatus(intent.Status).
		SetMetadata(meta)
	if !audit.SetAmounts(booking.TotalPrice, intent.Amount, intent.Currency) {
		audit.EventType = models.PaymentEventReconciliationMismatch
		audit.SetError("paid amount differs from booking total", "amount_mismatch")
		s.audit(ctx, audit)
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"expected":   booking.TotalPrice,
			"received":   intent.Amount,
		}).Error("Webhook payment amount mismatch")
		return WebhookOutcomeIgnored, ReasonAmountMismatch, nil
	}

	result, err := s.issuer.Issue(ctx, bookingID)
	if err != nil {
		switch KindOf(err) {
		case KindNotFound:
			return WebhookOutcomeIgnored, ReasonBookingNotFound, nil
		case KindConflict:
			mismatch := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceStripeWebhook).
				SetBooking(bookingID).
				SetIntent(intent.ID).
				SetPaymentStatus(intent.Status).
				SetError(ReasonsOf(err)[0], "issue_rejected").
				SetMetadata(meta)
			s.audit(ctx, mismatch)
			s.logger.WithField("booking_id", bookingID).Error("Payment succeeded for a booking that cannot be confirmed, manual refund required")
			return WebhookOutcomeIgnored, ReasonsOf(err)[0], nil
		}
		return "", "", err
	}

	s.audit(ctx, audit)
	if result.AlreadyIssued {
		return WebhookOutcomeProcessed, "tickets already issued", nil
	}
	issued := models.NewPaymentAudit(models.PaymentEventTicketsIssued, models.PaymentSourceStripeWebhook).
		SetBooking(bookingID).
		SetIntent(intent.ID).
		SetMetadata(meta)
	s.audit(ctx, issued)
	return WebhookOutcomeProcessed, "tickets issued", nil
}

func (s *WebhookService) handleFailed(ctx context.Context, event *payment.Event, meta models.RequestMeta) (string, string, error) {
	bookingID, ok := s.eventBookingID(ctx, event, meta)
	if !ok {
		return WebhookOutcomeIgnored, "no booking metadata", nil
	}
	intent := event.Intent
	s.refreshMirror(ctx, intent)

	audit := models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceStripeWebhook).
		SetBooking(bookingID).
		SetIntent(intent.ID).
		SetPaymentStatus(intent.Status).
		SetMetadata(meta)
	if intent.LastError != "" {
		audit.SetError(intent.LastError, event.Type)
	}
	s.audit(ctx, audit)

	cancelled, err := s.bookings.CancelUnpaid(ctx, bookingID, CancelledByPayment)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return WebhookOutcomeIgnored, ReasonBookingNotFound, nil
		}
		return "", "", err
	}
	if !cancelled {
		return WebhookOutcomeIgnored, "booking is not awaiting payment", nil
	}

	// Stop the intent from being charged later
	if intent.Status != models.IntentStatusCanceled {
		canceled, err := s.provider.CancelIntent(ctx, intent.ID)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"booking_id": bookingID,
				"intent_id":  intent.ID,
			}).Warn("Failed to cancel payment intent after failure")
		} else {
			s.refreshMirror(ctx, canceled)
		}
	}
	return WebhookOutcomeProcessed, "booking cancelled and seats released", nil
}

// eventBookingID parses the booking id from the intent metadata
func (s *WebhookService) eventBookingID(ctx context.Context, event *payment.Event, meta models.RequestMeta) (uuid.UUID, bool) {
	if event.Intent == nil {
		return uuid.Nil, false
	}
	bookingID, err := uuid.Parse(event.Intent.BookingID())
	if err != nil {
		audit := s.eventAudit(models.PaymentEventError, event, meta).
			SetError("missing or invalid booking_id metadata", "invalid_metadata")
		s.audit(ctx, audit)
		s.logger.WithField("event_id", event.ID).Warn("Webhook intent has no booking metadata")
		return uuid.Nil, false
	}
	return bookingID, true
}

func (s *WebhookService) reject(ctx context.Context, err error, meta models.RequestMeta) error {
	audit := models.NewPaymentAudit(models.PaymentEventWebhookRejected, models.PaymentSourceStripeWebhook).
		SetError(err.Error(), "").
		SetMetadata(meta)
	s.audit(ctx, audit)
	s.metrics.WebhookEvent("unknown", WebhookOutcomeRejected)

	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		s.logger.WithField("ip_address", meta.IPAddress).Warn("Webhook signature verification failed")
		return &Error{Kind: KindInvalidSignature, Reasons: []string{ReasonInvalidSignature}, Err: err}
	case errors.Is(err, payment.ErrMalformedEvent):
		return &Error{Kind: KindValidation, Reasons: []string{ReasonMalformedEvent}, Err: err}
	}
	return internalError(err)
}

func (s *WebhookService) eventAudit(eventType models.PaymentEventType, event *payment.Event, meta models.RequestMeta) *models.PaymentAudit {
	audit := models.NewPaymentAudit(eventType, models.PaymentSourceStripeWebhook).SetMetadata(meta)
	if event.Intent != nil {
		audit.SetIntent(event.Intent.ID)
		audit.SetPaymentStatus(event.Intent.Status)
		if bookingID, err := uuid.Parse(event.Intent.BookingID()); err == nil {
			audit.SetBooking(bookingID)
		}
	}
	return audit.SetIdempotencyKey(event.ID)
}

func (s *WebhookService) refreshMirror(ctx context.Context, intent *payment.Intent) {
	if err := s.store.UpdatePaymentIntentStatus(ctx, intent.ID, intent.Status); err != nil {
		s.logger.WithError(err).WithField("intent_id", intent.ID).Warn("Failed to refresh payment intent mirror")
	}
}

func (s *WebhookService) audit(ctx context.Context, audit *models.PaymentAudit) {
	_ = s.store.LogPaymentAudit(ctx, audit)
}
