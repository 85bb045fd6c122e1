package services

import (
	"context"
	"testing"
	"time"

	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) advanceReaperClock(d time.Duration) {
	e.reaper.now = func() time.Time { return time.Now().Add(d) }
}

func TestExpiration_FreshBookingsUntouched(t *testing.T) {
	env := newTestEnv(t, 5, 100)
	booking := env.book(t, 2)

	stats, err := env.reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
	assert.Equal(t, models.BookingStatusPending, env.booking(t, booking.ID).Status)
}

func TestExpiration_ReleasesAbandonedBooking(t *testing.T) {
	env := newTestEnv(t, 5, 100)
	withoutIntent := env.book(t, 1)
	withIntent := env.book(t, 2)
	intent, err := env.payments.CreateIntent(context.Background(), CreateIntentInput{BookingID: withIntent.ID, PassengerID: env.passenger})
	require.NoError(t, err)
	require.Equal(t, 2, env.availableSeats(t))

	env.advanceReaperClock(time.Hour)
	stats, err := env.reaper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Expired)
	assert.Equal(t, 5, env.availableSeats(t))
	assert.Equal(t, models.BookingStatusCancelled, env.booking(t, withoutIntent.ID).Status)
	stored := env.booking(t, withIntent.ID)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, CancelledByTimeout, *stored.CancellationReason)

	assert.Equal(t, 1, env.provider.Calls("cancel_intent"))
	providerIntent, err := env.provider.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCanceled, providerIntent.Status)
	assert.Equal(t, 2, env.countAudits(models.PaymentEventBookingExpired))
}

func TestExpiration_LatePaymentIsConfirmed(t *testing.T) {
	env := newTestEnv(t, 5, 100)
	booking := env.book(t, 2)
	env.pay(t, booking)

	env.advanceReaperClock(time.Hour)
	stats, err := env.reaper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 0, stats.Expired)
	assert.True(t, env.booking(t, booking.ID).IsPaid)
	assert.Len(t, env.tickets(t, booking.ID), 2)
	assert.Equal(t, 3, env.availableSeats(t))
}

func TestExpiration_PolledPaymentIsConfirmed(t *testing.T) {
	env := newTestEnv(t, 5, 100)
	booking := env.book(t, 2)
	intentID := env.pay(t, booking)
	status, err := env.payments.GetPaymentStatus(context.Background(), intentID)
	require.NoError(t, err)
	require.Equal(t, models.IntentStatusSucceeded, status.Status)

	env.advanceReaperClock(time.Hour)
	stats, err := env.reaper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 0, stats.Expired)
	stored := env.booking(t, booking.ID)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
	assert.Len(t, env.tickets(t, booking.ID), 2)
	assert.Equal(t, 3, env.availableSeats(t))
	assert.Equal(t, 0, env.provider.Calls("cancel_intent"))
}

func TestExpiration_ProcessingPaymentIsSkipped(t *testing.T) {
	env := newTestEnv(t, 5, 100)
	booking := env.book(t, 2)
	intent, err := env.payments.CreateIntent(context.Background(), CreateIntentInput{BookingID: booking.ID, PassengerID: env.passenger})
	require.NoError(t, err)
	env.provider.SetStatus(intent.IntentID, models.IntentStatusProcessing)

	env.advanceReaperClock(time.Hour)
	stats, err := env.reaper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, models.BookingStatusPending, env.booking(t, booking.ID).Status)
	assert.Equal(t, 3, env.availableSeats(t))
}

func TestExpiration_ProviderOutageKeepsBooking(t *testing.T) {
	env := newTestEnv(t, 5, 100)
	booking := env.book(t, 2)
	_, err := env.payments.CreateIntent(context.Background(), CreateIntentInput{BookingID: booking.ID, PassengerID: env.passenger})
	require.NoError(t, err)
	env.provider.QueueErrors("get_intent", assert.AnError)

	env.advanceReaperClock(time.Hour)
	stats, err := env.reaper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, models.BookingStatusPending, env.booking(t, booking.ID).Status)
}

func TestExpiration_StartStop(t *testing.T) {
	env := newTestEnv(t, 5, 100)
	require.NoError(t, env.reaper.Start())
	env.reaper.Stop()

	bad := NewBookingExpirationService(env.store, env.provider, env.issuer, env.bookings,
		BookingExpirationConfig{Schedule: "not a schedule"}, testLogger())
	assert.Error(t, bad.Start())
}
