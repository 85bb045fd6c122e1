package payment

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig bounds provider retries
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// RetryingProvider retries provider calls that were rate limited, with doubling
// backoff. Every other error is returned on the first attempt.
type RetryingProvider struct {
	next    Provider
	config  RetryConfig
	logger  *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(op string)
}

// NewRetryingProvider wraps next with the rate limit retry policy
func NewRetryingProvider(next Provider, config RetryConfig, logger *logrus.Logger) *RetryingProvider {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 500 * time.Millisecond
	}
	return &RetryingProvider{
		next:   next,
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// OnRetry registers a callback invoked before every retry
func (p *RetryingProvider) OnRetry(fn func(op string)) {
	p.onRetry = fn
}

func (p *RetryingProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	var intent *Intent
	err := p.do(ctx, "create_intent", func() (err error) {
		intent, err = p.next.CreateIntent(ctx, req)
		return err
	})
	return intent, err
}

func (p *RetryingProvider) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent *Intent
	err := p.do(ctx, "get_intent", func() (err error) {
		intent, err = p.next.GetIntent(ctx, intentID)
		return err
	})
	return intent, err
}

func (p *RetryingProvider) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent *Intent
	err := p.do(ctx, "cancel_intent", func() (err error) {
		intent, err = p.next.CancelIntent(ctx, intentID)
		return err
	})
	return intent, err
}

func (p *RetryingProvider) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	var refund *Refund
	err := p.do(ctx, "refund", func() (err error) {
		refund, err = p.next.Refund(ctx, req)
		return err
	})
	return refund, err
}

// ParseWebhook is local signature verification and is never retried
func (p *RetryingProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	return p.next.ParseWebhook(payload, signature)
}

func (p *RetryingProvider) do(ctx context.Context, op string, call func() error) error {
	backoff := p.config.BaseBackoff
	var err error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		err = call()
		if err == nil || !errors.Is(err, ErrRateLimited) || attempt == p.config.MaxAttempts {
			return err
		}

		p.logger.WithFields(logrus.Fields{
			"operation":  op,
			"attempt":    attempt,
			"backoff_ms": backoff.Milliseconds(),
		}).Warn("Payment provider rate limited, retrying")

		if p.onRetry != nil {
			p.onRetry(op)
		}
		if sleepErr := p.sleep(ctx, backoff); sleepErr != nil {
			return sleepErr
		}
		backoff *= 2
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
