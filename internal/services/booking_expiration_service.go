package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/smarttransit/booking-backend/pkg/payment"
)

// BookingExpirationConfig holds configuration for the pending booking reaper
type BookingExpirationConfig struct {
	Schedule   string        // Cron spec with seconds (default every minute)
	PendingTTL time.Duration // Age after which an unpaid booking is released (default 15 min)
	BatchSize  int           // Bookings handled per run (default 100)
	RunTimeout time.Duration // Upper bound on one run (default 50s)
}

// DefaultBookingExpirationConfig returns default configuration
func DefaultBookingExpirationConfig() BookingExpirationConfig {
	return BookingExpirationConfig{
		Schedule:   "0 * * * * *",
		PendingTTL: 15 * time.Minute,
		BatchSize:  100,
		RunTimeout: 50 * time.Second,
	}
}

// ExpirationStats summarizes one reaper run
type ExpirationStats struct {
	Scanned   int `json:"scanned"`
	Expired   int `json:"expired"`
	Confirmed int `json:"confirmed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// BookingExpirationService releases the seats of bookings whose payment never completed
type BookingExpirationService struct {
	store    database.Store
	provider payment.Provider
	issuer   *TicketIssuer
	bookings *BookingService
	config   BookingExpirationConfig
	cron     *cron.Cron
	now      func() time.Time
	logger   *logrus.Logger
}

// NewBookingExpirationService creates a new reaper
func NewBookingExpirationService(
	store database.Store,
	provider payment.Provider,
	issuer *TicketIssuer,
	bookings *BookingService,
	config BookingExpirationConfig,
	logger *logrus.Logger,
) *BookingExpirationService {
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &BookingExpirationService{
		store:    store,
		provider: provider,
		issuer:   issuer,
		bookings: bookings,
		config:   config,
		cron:     c,
		now:      time.Now,
		logger:   logger,
	}
}

// Start schedules the reaper
func (s *BookingExpirationService) Start() error {
	if _, err := s.cron.AddFunc(s.config.Schedule, s.expirePendingBookingsJob); err != nil {
		return fmt.Errorf("failed to schedule booking expiration job: %w", err)
	}
	s.cron.Start()

	s.logger.WithFields(logrus.Fields{
		"schedule":    s.config.Schedule,
		"pending_ttl": s.config.PendingTTL.String(),
	}).Info("Booking expiration service started")
	return nil
}

// Stop waits for a running job to finish and stops the scheduler
func (s *BookingExpirationService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Booking expiration service stopped")
}

func (s *BookingExpirationService) expirePendingBookingsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	startTime := time.Now()
	stats, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Booking expiration run failed")
		return
	}
	if stats.Scanned == 0 {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"scanned":     stats.Scanned,
		"expired":     stats.Expired,
		"confirmed":   stats.Confirmed,
		"skipped":     stats.Skipped,
		"failed":      stats.Failed,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Booking expiration run complete")
}

// RunOnce handles one batch of stale pending bookings
func (s *BookingExpirationService) RunOnce(ctx context.Context) (*ExpirationStats, error) {
	cutoff := s.now().UTC().Add(-s.config.PendingTTL)
	bookings, err := s.store.ListStalePendingBookings(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return nil, err
	}

	stats := &ExpirationStats{Scanned: len(bookings)}
	for i := range bookings {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		s.expireBooking(ctx, &bookings[i], stats)
	}
	return stats, nil
}

func (s *BookingExpirationService) expireBooking(ctx context.Context, booking *models.Booking, stats *ExpirationStats) {
	logger := s.logger.WithField("booking_id", booking.ID)

	// 1. A payment may have completed without a webhook reaching us
	intents, err := s.store.ListPaymentIntentsByBooking(ctx, booking.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to load payment intents for stale booking")
		stats.Failed++
		return
	}

	paidIntent := ""
	var openIntents []string
scan:
	for _, intent := range intents {
		switch intent.Status {
		case models.IntentStatusSucceeded:
			paidIntent = intent.ID
			break scan
		case models.IntentStatusCanceled:
			continue
		}

		current, err := s.provider.GetIntent(ctx, intent.ID)
		if err != nil {
			logger.WithError(err).WithField("intent_id", intent.ID).Warn("Could not verify intent, leaving booking pending")
			stats.Failed++
			return
		}
		if current.Status != intent.Status {
			if err := s.store.UpdatePaymentIntentStatus(ctx, current.ID, current.Status); err != nil {
				logger.WithError(err).Warn("Failed to refresh payment intent mirror")
			}
		}

		switch current.Status {
		case models.IntentStatusSucceeded:
			paidIntent = current.ID
			break scan
		case models.IntentStatusProcessing:
			stats.Skipped++
			return
		case models.IntentStatusCanceled:
		default:
			openIntents = append(openIntents, current.ID)
		}
	}

	if paidIntent != "" {
		if _, err := s.issuer.Issue(ctx, booking.ID); err != nil {
			logger.WithError(err).Error("Failed to issue tickets for late payment")
			stats.Failed++
			return
		}
		logger.WithField("intent_id", paidIntent).Info("Late payment found, tickets issued")
		stats.Confirmed++
		return
	}

	for _, intentID := range openIntents {
		if _, err := s.provider.CancelIntent(ctx, intentID); err != nil {
			logger.WithError(err).WithField("intent_id", intentID).Warn("Failed to cancel payment intent")
		} else if err := s.store.UpdatePaymentIntentStatus(ctx, intentID, models.IntentStatusCanceled); err != nil {
			logger.WithError(err).Warn("Failed to refresh payment intent mirror")
		}
	}

	// 2. Release the seats
	cancelled, err := s.bookings.CancelUnpaid(ctx, booking.ID, CancelledByTimeout)
	if err != nil {
		logger.WithError(err).Error("Failed to expire booking")
		stats.Failed++
		return
	}
	if !cancelled {
		stats.Skipped++
		return
	}

	audit := models.NewPaymentAudit(models.PaymentEventBookingExpired, models.PaymentSourceSystem).
		SetBooking(booking.ID)
	if len(intents) > 0 {
		audit.SetIntent(intents[0].ID)
	}
	_ = s.store.LogPaymentAudit(ctx, audit)
	stats.Expired++
}
