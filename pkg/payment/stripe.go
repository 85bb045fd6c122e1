package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe credentials and transport settings
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

// StripeProvider implements Provider on the Stripe PaymentIntents API
type StripeProvider struct {
	client        *client.API
	webhookSecret string
	configured    bool
	logger        *logrus.Logger
}

// NewStripeProvider creates a Stripe provider. Stripe's own network retries are
// disabled; RetryingProvider owns the retry policy.
func NewStripeProvider(cfg StripeConfig, logger *logrus.Logger) *StripeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger,
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	})

	return &StripeProvider{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
		configured:    cfg.SecretKey != "",
		logger:        logger,
	}
}

// CreateIntent creates a payment intent with automatic payment methods
func (s *StripeProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount, req.Currency)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeError("create intent", err)
	}

	s.logger.WithFields(logrus.Fields{
		"intent_id": pi.ID,
		"amount":    pi.Amount,
		"currency":  pi.Currency,
	}).Debug("Stripe payment intent created")

	return intentFromStripe(pi), nil
}

// GetIntent retrieves the current state of a payment intent
func (s *StripeProvider) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, classifyStripeError("get intent", err)
	}
	return intentFromStripe(pi), nil
}

// CancelIntent cancels an intent that has not been paid
func (s *StripeProvider) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, classifyStripeError("cancel intent", err)
	}
	return intentFromStripe(pi), nil
}

// Refund refunds all or part of the intent's charge
func (s *StripeProvider) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(ToMinorUnits(*req.Amount, req.Currency))
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	params.Context = ctx

	refund, err := s.client.Refunds.New(params)
	if err != nil {
		return nil, classifyStripeError("refund", err)
	}

	currency := string(refund.Currency)
	return &Refund{
		ID:       refund.ID,
		Amount:   FromMinorUnits(refund.Amount, currency),
		Currency: currency,
		Status:   string(refund.Status),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event
func (s *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if s.webhookSecret == "" {
		return nil, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := &Event{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(result.Type, "payment_intent.") {
		if event.Data == nil {
			return nil, ErrMalformedEvent
		}
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		result.Intent = intentFromStripe(&pi)
	}
	return result, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	currency := string(pi.Currency)
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       FromMinorUnits(pi.Amount, currency),
		Currency:     currency,
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		intent.LastError = pi.LastPaymentError.Msg
	}
	return intent
}

// classifyStripeError converts stripe-go errors into ProviderError
func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{
			Op:         op,
			StatusCode: stripeErr.HTTPStatusCode,
			Code:       string(stripeErr.Code),
			Message:    stripeErr.Msg,
			Err:        err,
		}
	}
	return &ProviderError{Op: op, Message: err.Error(), Err: err}
}
