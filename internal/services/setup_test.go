package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/messaging"
	"github.com/smarttransit/booking-backend/internal/metrics"
	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/smarttransit/booking-backend/pkg/payment/paymenttest"
	"github.com/stretchr/testify/require"
)

// testEnv wires every service on the in-memory store and the fake provider
type testEnv struct {
	store    *database.MemoryStore
	provider *paymenttest.Provider
	issuer   *TicketIssuer
	bookings *BookingService
	payments *PaymentService
	webhooks *WebhookService
	reaper   *BookingExpirationService
	docs     *TicketDocumentService

	tripID    uuid.UUID
	stations  []uuid.UUID
	passenger uuid.UUID
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestEnv(t *testing.T, seats int, price float64) *testEnv {
	t.Helper()
	logger := testLogger()
	store := database.NewMemoryStore()
	provider := paymenttest.New()
	publisher := messaging.NewLogPublisher(logger)
	m := metrics.New(prometheus.NewRegistry())

	issuer := NewTicketIssuer(store, NewLocalLocker(), publisher, m, logger)
	bookings := NewBookingService(store, publisher, m, DefaultBookingServiceConfig(), logger)

	env := &testEnv{
		store:     store,
		provider:  provider,
		issuer:    issuer,
		bookings:  bookings,
		payments:  NewPaymentService(store, provider, issuer, DefaultPaymentServiceConfig(), logger),
		webhooks:  NewWebhookService(store, provider, issuer, bookings, m, logger),
		reaper:    NewBookingExpirationService(store, provider, issuer, bookings, DefaultBookingExpirationConfig(), logger),
		docs:      NewTicketDocumentService(bookings, logger),
		tripID:    uuid.New(),
		stations:  []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		passenger: uuid.New(),
	}

	trip := models.Trip{
		BaseEntity:     models.NewBaseEntity(),
		AvailableSeats: seats,
		Price:          price,
		DepartureTime:  time.Now().Add(24 * time.Hour),
	}
	trip.ID = env.tripID
	for i, stationID := range env.stations {
		trip.Stations = append(trip.Stations, models.TripStation{
			TripID:         env.tripID,
			StationID:      stationID,
			SequenceNumber: i + 1,
		})
	}
	store.SeedTrip(trip)
	store.SeedPassenger(env.passenger)
	return env
}

func (e *testEnv) bookingInput(tickets int) CreateBookingInput {
	return CreateBookingInput{
		TripID:          e.tripID,
		StartStationID:  e.stations[0],
		EndStationID:    e.stations[2],
		NumberOfTickets: tickets,
		PassengerID:     e.passenger,
	}
}

func (e *testEnv) book(t *testing.T, tickets int) *models.Booking {
	t.Helper()
	booking, err := e.bookings.CreateBooking(context.Background(), e.bookingInput(tickets))
	require.NoError(t, err)
	return booking
}

func (e *testEnv) availableSeats(t *testing.T) int {
	t.Helper()
	trip, err := e.store.GetTrip(context.Background(), e.tripID)
	require.NoError(t, err)
	require.NotNil(t, trip)
	return trip.AvailableSeats
}

func (e *testEnv) booking(t *testing.T, id uuid.UUID) *models.Booking {
	t.Helper()
	booking, err := e.store.GetBooking(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, booking)
	return booking
}

func (e *testEnv) tickets(t *testing.T, bookingID uuid.UUID) []models.Ticket {
	t.Helper()
	tickets, err := e.store.ListTicketsByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	return tickets
}

// pay creates an intent for the booking and marks it succeeded at the provider
func (e *testEnv) pay(t *testing.T, booking *models.Booking) string {
	t.Helper()
	intent, err := e.payments.CreateIntent(context.Background(), CreateIntentInput{
		BookingID:   booking.ID,
		PassengerID: booking.PassengerID,
	})
	require.NoError(t, err)
	e.provider.SetStatus(intent.IntentID, models.IntentStatusSucceeded)
	return intent.IntentID
}

func (e *testEnv) countAudits(eventType models.PaymentEventType) int {
	n := 0
	for _, a := range e.store.Audits() {
		if a.EventType == eventType {
			n++
		}
	}
	return n
}
