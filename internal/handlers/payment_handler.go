package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/services"
	"github.com/smarttransit/booking-backend/internal/utils"
)

// maxWebhookBodyBytes bounds a webhook delivery
const maxWebhookBodyBytes = 65536

// CreatePaymentIntentRequest is the body of POST /payments/create-payment-intent.
// Amount 0 pays the booking total.
type CreatePaymentIntentRequest struct {
	BookingID string  `json:"booking_id" binding:"required,uuid"`
	Amount    float64 `json:"amount" binding:"gte=0"`
	Currency  string  `json:"currency" binding:"omitempty,len=3"`
}

// ConfirmPaymentRequest is the body of POST /payments/confirm-payment
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required,startswith=pi_"`
	BookingID       string `json:"booking_id" binding:"required,uuid"`
}

// RefundRequest is the body of POST /payments/refund. A missing amount refunds in full.
type RefundRequest struct {
	PaymentIntentID string   `json:"payment_intent_id" binding:"required,startswith=pi_"`
	Amount          *float64 `json:"amount,omitempty"`
	Reason          string   `json:"reason" binding:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

// PaymentHandler handles payment intents, confirms, refunds and provider webhooks
type PaymentHandler struct {
	payments *services.PaymentService
	webhooks *services.WebhookService
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments *services.PaymentService, webhooks *services.WebhookService, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		webhooks: webhooks,
		logger:   logger,
	}
}

// CreatePaymentIntent opens (or reuses) a provider intent for a pending booking
// @Summary Create a payment intent
// @Description Open or reuse a provider intent for the total of a pending booking
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body CreatePaymentIntentRequest true "Intent request"
// @Success 201 {object} services.IntentResult "Intent created"
// @Success 200 {object} services.IntentResult "Open intent reused"
// @Failure 400 {object} ErrorResponse "Invalid request or amount mismatch"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Booking not found"
// @Failure 409 {object} ErrorResponse "Booking already paid or not pending"
// @Failure 502 {object} ErrorResponse "Payment provider unavailable"
// @Security BearerAuth
// @Router /api/v1/payments/create-payment-intent [post]
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreatePaymentIntentRequest
	if !bindJSON(c, &req) {
		return
	}
	bookingID := uuid.MustParse(req.BookingID)

	result, err := h.payments.CreateIntent(c.Request.Context(), services.CreateIntentInput{
		BookingID:   bookingID,
		PassengerID: userCtx.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Meta:        utils.RequestMetadata(c),
	})
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"booking_id":   bookingID,
			"passenger_id": userCtx.UserID,
		})
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// ConfirmPayment checks an intent with the provider and issues tickets when it succeeded.
// An intent that has not succeeded yet is reported with success false.
// @Summary Confirm a payment
// @Description Verify an intent with the provider and issue tickets once it succeeded
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body ConfirmPaymentRequest true "Confirm request"
// @Success 200 {object} services.PaymentResult "Payment result"
// @Failure 400 {object} ErrorResponse "Invalid request or amount mismatch"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Booking not found"
// @Failure 409 {object} ErrorResponse "Intent belongs to another booking"
// @Failure 502 {object} ErrorResponse "Payment provider unavailable"
// @Security BearerAuth
// @Router /api/v1/payments/confirm-payment [post]
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}

	var req ConfirmPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	bookingID := uuid.MustParse(req.BookingID)

	result, err := h.payments.ConfirmPayment(c.Request.Context(), services.ConfirmPaymentInput{
		IntentID:    req.PaymentIntentID,
		BookingID:   bookingID,
		PassengerID: userCtx.UserID,
		Meta:        utils.RequestMetadata(c),
	})
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"booking_id": bookingID,
			"intent_id":  req.PaymentIntentID,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetPaymentStatus returns the provider status of an intent
// @Summary Get payment status
// @Description Get the provider status of a payment intent
// @Tags Payments
// @Produce json
// @Param intentId path string true "Payment intent ID"
// @Success 200 {object} services.PaymentStatusResult "Intent status"
// @Failure 400 {object} ErrorResponse "Invalid intent ID"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 502 {object} ErrorResponse "Payment provider unavailable"
// @Security BearerAuth
// @Router /api/v1/payments/status/{intentId} [get]
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	intentID := c.Param("intentId")
	if !strings.HasPrefix(intentID, "pi_") {
		badRequest(c, "Invalid payment intent id", "intentId: must start with pi_")
		return
	}

	result, err := h.payments.GetPaymentStatus(c.Request.Context(), intentID)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"intent_id": intentID})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RefundPayment refunds a payment at the provider (admin only)
// @Summary Refund a payment
// @Description Refund a payment in full or in part at the provider
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body RefundRequest true "Refund request"
// @Success 200 {object} map[string]interface{} "Refund created"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 502 {object} ErrorResponse "Payment provider unavailable"
// @Security BearerAuth
// @Router /api/v1/payments/refund [post]
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}

	var req RefundRequest
	if !bindJSON(c, &req) {
		return
	}

	refund, err := h.payments.ProcessRefund(c.Request.Context(), services.RefundInput{
		IntentID: req.PaymentIntentID,
		Amount:   req.Amount,
		Reason:   req.Reason,
		AdminID:  userCtx.UserID,
		Meta:     utils.RequestMetadata(c),
	})
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"intent_id": req.PaymentIntentID,
			"admin_id":  userCtx.UserID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Refund processed",
		"refund":  refund,
	})
}

// HandleWebhook receives provider events. Any 2xx tells the provider to stop
// redelivering, so only internal failures return 5xx.
// @Summary Payment provider webhook
// @Description Receive signed payment events from the provider
// @Tags Payments
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} map[string]interface{} "Event acknowledged"
// @Failure 400 {object} ErrorResponse "Invalid payload or signature"
// @Failure 500 {object} ErrorResponse "Event could not be processed"
// @Router /api/v1/payments/webhook [post]
func (h *PaymentHandler) HandleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Unable to read request body")
		return
	}

	result, err := h.webhooks.HandleEvent(
		c.Request.Context(),
		payload,
		c.GetHeader("Stripe-Signature"),
		utils.RequestMetadata(c),
	)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"source": "webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"event_id": result.EventID,
		"outcome":  result.Outcome,
		"message":  result.Message,
	})
}

