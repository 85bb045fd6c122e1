// Package paymenttest provides an in-process payment.Provider for tests.
package paymenttest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smarttransit/booking-backend/pkg/payment"
)

// Provider keeps intents in memory and signs webhooks with the Stripe header scheme
type Provider struct {
	WebhookSecret string

	mu      sync.Mutex
	seq     int
	intents map[string]payment.Intent
	refunds []payment.RefundRequest
	queued  map[string][]error
	calls   map[string]int
}

// New creates an empty provider
func New() *Provider {
	return &Provider{
		WebhookSecret: "whsec_paymenttest",
		intents:       map[string]payment.Intent{},
		queued:        map[string][]error{},
		calls:         map[string]int{},
	}
}

// QueueErrors makes the next calls of op ("create_intent", "get_intent",
// "cancel_intent", "refund") fail with errs, in order
func (p *Provider) QueueErrors(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued[op] = append(p.queued[op], errs...)
}

// Calls returns how many times op was invoked
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Refunds returns the refund requests received
func (p *Provider) Refunds() []payment.RefundRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.RefundRequest(nil), p.refunds...)
}

// SetStatus changes an intent's status as if the customer acted on it
func (p *Provider) SetStatus(intentID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent := p.intents[intentID]
	intent.Status = status
	p.intents[intentID] = intent
}

// PutIntent stores an intent as-is
func (p *Provider) PutIntent(intent payment.Intent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[intent.ID] = intent
}

func (p *Provider) begin(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	if errs := p.queued[op]; len(errs) > 0 {
		p.queued[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (p *Provider) CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.Intent, error) {
	if err := p.begin("create_intent"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("pi_test_%d", p.seq)
	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	intent := payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "requires_payment_method",
		Metadata:     metadata,
	}
	p.intents[id] = intent
	return &intent, nil
}

func (p *Provider) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	if err := p.begin("get_intent"); err != nil {
		return nil, err
	}
	return p.lookup(intentID)
}

func (p *Provider) CancelIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	if err := p.begin("cancel_intent"); err != nil {
		return nil, err
	}
	p.SetStatus(intentID, "canceled")
	return p.lookup(intentID)
}

func (p *Provider) Refund(ctx context.Context, req payment.RefundRequest) (*payment.Refund, error) {
	if err := p.begin("refund"); err != nil {
		return nil, err
	}
	intent, err := p.lookup(req.IntentID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, req)
	amount := intent.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	return &payment.Refund{
		ID:       fmt.Sprintf("re_test_%d", len(p.refunds)),
		Amount:   amount,
		Currency: intent.Currency,
		Status:   "succeeded",
	}, nil
}

func (p *Provider) lookup(intentID string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[intentID]
	if !ok {
		return nil, &payment.ProviderError{Op: "get intent", StatusCode: 404, Code: "resource_missing", Message: "no such payment_intent"}
	}
	return &intent, nil
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object payment.Intent `json:"object"`
	} `json:"data"`
}

// EventPayload builds a webhook body for the stored intent
func (p *Provider) EventPayload(eventID, eventType, intentID string) []byte {
	intent, _ := p.lookup(intentID)
	env := eventEnvelope{ID: eventID, Type: eventType}
	if intent != nil {
		env.Data.Object = *intent
	}
	body, _ := json.Marshal(env)
	return body
}

// Sign returns a Stripe-Signature style header for payload
func (p *Provider) Sign(payload []byte) string {
	ts := time.Now().Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, p.signature(ts, payload))
}

func (p *Provider) signature(ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.WebhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies headers produced by Sign
func (p *Provider) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	var ts int64
	var sig string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, _ = strconv.ParseInt(kv[1], 10, 64)
		case "v1":
			sig = kv[1]
		}
	}
	if ts == 0 || !hmac.Equal([]byte(sig), []byte(p.signature(ts, payload))) {
		return nil, payment.ErrInvalidSignature
	}

	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedEvent, err)
	}
	event := &payment.Event{ID: env.ID, Type: env.Type}
	if strings.HasPrefix(env.Type, "payment_intent.") {
		intent := env.Data.Object
		event.Intent = &intent
	}
	return event, nil
}

var _ payment.Provider = (*Provider)(nil)
