package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/messaging"
	"github.com/smarttransit/booking-backend/internal/metrics"
	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/smarttransit/booking-backend/internal/services"
	"github.com/smarttransit/booking-backend/pkg/jwt"
	"github.com/smarttransit/booking-backend/pkg/payment"
	"github.com/smarttransit/booking-backend/pkg/payment/paymenttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router    *gin.Engine
	store     *database.MemoryStore
	provider  *paymenttest.Provider
	jwt       *jwt.Service
	tripID    uuid.UUID
	stations  []uuid.UUID
	passenger uuid.UUID
}

func newTestServer(t *testing.T, allowSimulated bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := database.NewMemoryStore()
	provider := paymenttest.New()
	publisher := messaging.NewLogPublisher(logger)
	m := metrics.New(prometheus.NewRegistry())

	issuer := services.NewTicketIssuer(store, services.NewLocalLocker(), publisher, m, logger)
	bookings := services.NewBookingService(store, publisher, m, services.DefaultBookingServiceConfig(), logger)
	payments := services.NewPaymentService(store, provider, issuer, services.DefaultPaymentServiceConfig(), logger)
	webhooks := services.NewWebhookService(store, provider, issuer, bookings, m, logger)
	documents := services.NewTicketDocumentService(bookings, logger)

	srv := &testServer{
		router:    gin.New(),
		store:     store,
		provider:  provider,
		jwt:       jwt.NewService("handler-test-secret-0123456789abcdef", time.Hour),
		tripID:    uuid.New(),
		stations:  []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		passenger: uuid.New(),
	}

	trip := models.Trip{
		BaseEntity:     models.NewBaseEntity(),
		AvailableSeats: 5,
		Price:          100,
		DepartureTime:  time.Now().Add(24 * time.Hour),
	}
	trip.ID = srv.tripID
	for i, stationID := range srv.stations {
		trip.Stations = append(trip.Stations, models.TripStation{
			TripID:         srv.tripID,
			StationID:      stationID,
			SequenceNumber: i + 1,
		})
	}
	store.SeedTrip(trip)
	store.SeedPassenger(srv.passenger)

	srv.router.GET("/health", HealthCheck(store, "test"))
	RegisterRoutes(srv.router, Routes{
		JWT:      srv.jwt,
		Bookings: NewBookingHandler(bookings, payments, documents, allowSimulated, logger),
		Payments: NewPaymentHandler(payments, webhooks, logger),
		Logger:   logger,
	})
	return srv
}

func (s *testServer) token(t *testing.T, userID uuid.UUID, roles ...string) string {
	t.Helper()
	token, err := s.jwt.GenerateAccessToken(userID, roles)
	require.NoError(t, err)
	return token
}

func (s *testServer) passengerToken(t *testing.T) string {
	return s.token(t, s.passenger, jwt.RolePassenger)
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createBooking(t *testing.T, tickets int) models.Booking {
	t.Helper()
	w := s.do(http.MethodPost, "/api/v1/bookings", s.passengerToken(t), gin.H{
		"trip_id":           s.tripID,
		"start_station_id":  s.stations[0],
		"end_station_id":    s.stations[2],
		"number_of_tickets": tickets,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var booking models.Booking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booking))
	return booking
}

func (s *testServer) createIntent(t *testing.T, bookingID uuid.UUID) services.IntentResult {
	t.Helper()
	w := s.do(http.MethodPost, "/api/v1/payments/create-payment-intent", s.passengerToken(t), gin.H{
		"booking_id": bookingID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var intent services.IntentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &intent))
	return intent
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestCreateBookingHandler(t *testing.T) {
	srv := newTestServer(t, false)

	t.Run("created", func(t *testing.T) {
		booking := srv.createBooking(t, 2)
		assert.Equal(t, models.BookingStatusPending, booking.Status)
		assert.Equal(t, 200.0, booking.TotalPrice)
		assert.Equal(t, srv.passenger, booking.PassengerID)
	})

	t.Run("same stations", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/bookings", srv.passengerToken(t), gin.H{
			"trip_id":           srv.tripID,
			"start_station_id":  srv.stations[1],
			"end_station_id":    srv.stations[1],
			"number_of_tickets": 0,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, string(services.KindValidation), body.Error)
		assert.Equal(t, []string{services.ReasonSameStations}, body.Details)
	})

	t.Run("malformed ids", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/bookings", srv.passengerToken(t), gin.H{
			"trip_id":           "not-a-uuid",
			"start_station_id":  srv.stations[0],
			"number_of_tickets": 1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, []string{
			"end_station_id: is required",
			"trip_id: must be a valid UUID",
		}, body.Details)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/bookings", srv.passengerToken(t), []byte(`{"trip_id":`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "Invalid request body", body.Message)
		assert.Len(t, body.Details, 1)
	})

	t.Run("not enough seats", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/bookings", srv.passengerToken(t), gin.H{
			"trip_id":           srv.tripID,
			"start_station_id":  srv.stations[0],
			"end_station_id":    srv.stations[2],
			"number_of_tickets": 4,
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, []string{services.ReasonNotEnoughSeats}, decodeError(t, w).Details)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/bookings", "", gin.H{})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("admin is not a passenger", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/bookings", srv.token(t, uuid.New(), jwt.RoleAdmin), gin.H{})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestGetBookingHandlers(t *testing.T) {
	srv := newTestServer(t, false)
	booking := srv.createBooking(t, 1)

	w := srv.do(http.MethodGet, "/api/v1/bookings/"+booking.ID.String(), srv.passengerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail models.BookingWithTickets
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, booking.ID, detail.ID)
	assert.Empty(t, detail.Tickets)

	w = srv.do(http.MethodGet, "/api/v1/bookings/my-bookings?page=1&page_size=5", srv.passengerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Bookings []models.Booking `json:"bookings"`
		Total    int              `json:"total"`
		PageSize int              `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)
	require.Len(t, page.Bookings, 1)

	t.Run("bad id", func(t *testing.T) {
		w := srv.do(http.MethodGet, "/api/v1/bookings/xyz", srv.passengerToken(t), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("other passenger", func(t *testing.T) {
		other := srv.token(t, uuid.New(), jwt.RolePassenger)
		w := srv.do(http.MethodGet, "/api/v1/bookings/"+booking.ID.String(), other, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, []string{services.ReasonNotBookingOwner}, decodeError(t, w).Details)
	})

	t.Run("unknown booking", func(t *testing.T) {
		w := srv.do(http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), srv.passengerToken(t), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCancelBookingHandler(t *testing.T) {
	srv := newTestServer(t, false)
	booking := srv.createBooking(t, 3)
	path := "/api/v1/bookings/cancel/" + booking.ID.String()

	w := srv.do(http.MethodPost, path, srv.passengerToken(t), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	trip, err := srv.store.GetTrip(context.Background(), srv.tripID)
	require.NoError(t, err)
	assert.Equal(t, 5, trip.AvailableSeats)

	w = srv.do(http.MethodPost, path, srv.passengerToken(t), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []string{services.ReasonAlreadyCancelled}, decodeError(t, w).Details)
}

func TestPaymentFlowHandlers(t *testing.T) {
	srv := newTestServer(t, false)
	booking := srv.createBooking(t, 3)
	intent := srv.createIntent(t, booking.ID)
	assert.Equal(t, 300.0, intent.Amount)
	assert.False(t, intent.Reused)

	t.Run("open intent reused", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/payments/create-payment-intent", srv.passengerToken(t), gin.H{
			"booking_id": booking.ID,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var again services.IntentResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
		assert.Equal(t, intent.IntentID, again.IntentID)
		assert.True(t, again.Reused)
	})

	confirm := gin.H{"payment_intent_id": intent.IntentID, "booking_id": booking.ID}

	t.Run("not yet paid", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/payments/confirm-payment", srv.passengerToken(t), confirm)
		require.Equal(t, http.StatusOK, w.Code)
		var result services.PaymentResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.False(t, result.Success)
	})

	t.Run("pdf before confirm", func(t *testing.T) {
		w := srv.do(http.MethodGet, "/api/v1/bookings/"+booking.ID.String()+"/tickets/pdf", srv.passengerToken(t), nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	srv.provider.SetStatus(intent.IntentID, models.IntentStatusSucceeded)

	t.Run("confirmed", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/payments/confirm-payment", srv.passengerToken(t), confirm)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var result services.PaymentResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.True(t, result.Success)
		assert.Len(t, result.TicketIDs, 3)
		assert.Len(t, result.TicketCodes, 3)
	})

	t.Run("status", func(t *testing.T) {
		w := srv.do(http.MethodGet, "/api/v1/payments/status/"+intent.IntentID, srv.passengerToken(t), nil)
		require.Equal(t, http.StatusOK, w.Code)
		var status services.PaymentStatusResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, models.IntentStatusSucceeded, status.Status)
		assert.Equal(t, booking.ID.String(), status.BookingID)
	})

	t.Run("pdf", func(t *testing.T) {
		w := srv.do(http.MethodGet, "/api/v1/bookings/"+booking.ID.String()+"/tickets/pdf", srv.passengerToken(t), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
	})

	t.Run("refund needs admin", func(t *testing.T) {
		w := srv.do(http.MethodPost, "/api/v1/payments/refund", srv.passengerToken(t), gin.H{
			"payment_intent_id": intent.IntentID,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("refund", func(t *testing.T) {
		admin := srv.token(t, uuid.New(), jwt.RoleAdmin)
		w := srv.do(http.MethodPost, "/api/v1/payments/refund", admin, gin.H{
			"payment_intent_id": intent.IntentID,
			"reason":            "requested_by_customer",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Len(t, srv.provider.Refunds(), 1)
		assert.Nil(t, srv.provider.Refunds()[0].Amount)
	})

	t.Run("refund rejects unknown reason", func(t *testing.T) {
		admin := srv.token(t, uuid.New(), jwt.RoleSuperAdmin)
		w := srv.do(http.MethodPost, "/api/v1/payments/refund", admin, gin.H{
			"payment_intent_id": intent.IntentID,
			"reason":            "because",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWebhookHandler(t *testing.T) {
	srv := newTestServer(t, false)
	booking := srv.createBooking(t, 2)
	intent := srv.createIntent(t, booking.ID)
	srv.provider.SetStatus(intent.IntentID, models.IntentStatusSucceeded)

	payload := srv.provider.EventPayload("evt_handler_1", payment.EventPaymentSucceeded, intent.IntentID)

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(services.KindInvalidSignature), decodeError(t, w).Error)
	})

	deliver := func() map[string]interface{} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", srv.provider.Sign(payload))
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	assert.Equal(t, services.WebhookOutcomeProcessed, deliver()["outcome"])
	assert.Equal(t, services.WebhookOutcomeDuplicate, deliver()["outcome"])

	tickets, err := srv.store.ListTicketsByBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestSimulatePaymentHandler(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, false)
		booking := srv.createBooking(t, 1)
		w := srv.do(http.MethodPost, "/api/v1/bookings/payment", srv.passengerToken(t), gin.H{"booking_id": booking.ID})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		srv := newTestServer(t, true)
		booking := srv.createBooking(t, 2)
		w := srv.do(http.MethodPost, "/api/v1/bookings/payment", srv.passengerToken(t), gin.H{"booking_id": booking.ID})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result services.PaymentResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.True(t, result.Success)
		assert.Equal(t, services.StatusSimulated, result.Status)
		assert.Len(t, result.TicketCodes, 2)
	})
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, false)
	w := srv.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	router := gin.New()
	router.GET("/health", HealthCheck(failingPinger{}, "test"))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRespondErrorHidesInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, logger, errors.New("pq: password authentication failed"), nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, string(services.KindInternal), body.Error)
	assert.Equal(t, services.ReasonInternal, body.Message)
	assert.NotContains(t, w.Body.String(), "password")
}
