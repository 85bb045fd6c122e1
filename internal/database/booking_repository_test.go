package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "passenger_id", "trip_id", "start_station_id", "end_station_id",
		"number_of_tickets", "total_price", "status", "is_paid", "booking_date",
		"cancelled_at", "cancellation_reason", "created_at", "updated_at", "is_deleted",
	})
}

func TestGetBookingForUpdate(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewBookingRepository(db)
	bookingID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id = \$1 AND is_deleted = FALSE FOR UPDATE`).
		WithArgs(bookingID).
		WillReturnRows(bookingRows().AddRow(
			bookingID.String(), uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString(),
			3, 300.0, "pending", false, now,
			nil, nil, now, now, false,
		))

	booking, err := repo.GetBookingForUpdate(context.Background(), bookingID)
	require.NoError(t, err)
	require.NotNil(t, booking)
	assert.Equal(t, models.BookingStatusPending, booking.Status)
	assert.Equal(t, 3, booking.NumberOfTickets)
	assert.Nil(t, booking.CancelledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkBookingPaid(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewBookingRepository(db)
	bookingID := uuid.New()

	mock.ExpectExec(`UPDATE bookings SET is_paid = TRUE, status = 'confirmed'`).
		WithArgs(bookingID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.MarkBookingPaid(context.Background(), bookingID)
	assert.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`WHERE id = \$1 AND is_paid = FALSE AND status = 'pending'`).
		WithArgs(bookingID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.MarkBookingPaid(context.Background(), bookingID)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBookingsByPassenger(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewBookingRepository(db)
	passengerID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).
		WithArgs(passengerID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(`ORDER BY booking_date DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(passengerID, 20, 20).
		WillReturnRows(bookingRows().AddRow(
			uuid.NewString(), passengerID.String(), uuid.NewString(), uuid.NewString(), uuid.NewString(),
			1, 100.0, "cancelled", false, now,
			now, "payment timeout", now, now, false,
		))

	bookings, total, err := repo.ListBookingsByPassenger(context.Background(), passengerID, 20, 20)
	require.NoError(t, err)
	assert.Equal(t, 21, total)
	require.Len(t, bookings, 1)
	require.NotNil(t, bookings[0].CancellationReason)
	assert.Equal(t, "payment timeout", *bookings[0].CancellationReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTickets(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTicketRepository(db)
	bookingID := uuid.New()

	newTickets := func() []models.Ticket {
		now := time.Now()
		return []models.Ticket{
			{BaseEntity: models.NewBaseEntity(), BookingID: &bookingID, SeatIndex: 0, TicketCode: "AB2C", PurchaseDate: now},
			{BaseEntity: models.NewBaseEntity(), BookingID: &bookingID, SeatIndex: 1, TicketCode: "XY7Z", PurchaseDate: now},
		}
	}

	t.Run("Single Batch Statement", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO tickets (.+) VALUES \(\$1, (.+), \$11\), \(\$12, (.+), \$22\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))

		assert.NoError(t, repo.InsertTickets(context.Background(), newTickets()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Code Collision", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO tickets`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "tickets_active_code_key"})

		err := repo.InsertTickets(context.Background(), newTickets())
		assert.ErrorIs(t, err, ErrTicketCodeConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Second Batch", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO tickets`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "tickets_booking_seat_key"})

		err := repo.InsertTickets(context.Background(), newTickets())
		assert.ErrorIs(t, err, ErrTicketsAlreadyIssued)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Empty Batch", func(t *testing.T) {
		assert.NoError(t, repo.InsertTickets(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSavePaymentIntent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPaymentIntentRepository(db)
	intent := &models.PaymentIntent{ID: "pi_123", BookingID: uuid.New(), Amount: 300, Currency: "lkr", Status: "requires_payment_method"}

	mock.ExpectExec(`INSERT INTO payment_intents (.+) ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(intent.ID, intent.BookingID, intent.Amount, intent.Currency, intent.Status).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.SavePaymentIntent(context.Background(), intent))

	mock.ExpectExec(`WHERE payment_intents.booking_id = EXCLUDED.booking_id`).
		WithArgs(intent.ID, intent.BookingID, intent.Amount, intent.Currency, intent.Status).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SavePaymentIntent(context.Background(), intent), ErrIntentBookingConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPaymentIntentsByBooking(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPaymentIntentRepository(db)
	bookingID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "booking_id", "amount", "currency", "status", "created_at", "updated_at"}).
		AddRow("pi_new", bookingID, 300.0, "lkr", "canceled", now, now).
		AddRow("pi_old", bookingID, 300.0, "lkr", "succeeded", now.Add(-time.Hour), now)
	mock.ExpectQuery(`SELECT (.+) FROM payment_intents WHERE booking_id = \$1 ORDER BY created_at DESC`).
		WithArgs(bookingID).
		WillReturnRows(rows)

	intents, err := repo.ListPaymentIntentsByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, "pi_new", intents[0].ID)
	assert.Equal(t, models.IntentStatusSucceeded, intents[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAuditRepository(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPaymentAuditRepository(db, testLogger())

	t.Run("Log", func(t *testing.T) {
		audit := models.NewPaymentAudit(models.PaymentEventWebhookProcessed, models.PaymentSourceStripeWebhook).
			SetIntent("pi_123").
			SetIdempotencyKey("evt_1")

		mock.ExpectExec(`INSERT INTO payment_audits`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.LogPaymentAudit(context.Background(), audit))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nil Entry", func(t *testing.T) {
		assert.Error(t, repo.LogPaymentAudit(context.Background(), nil))
	})

	t.Run("Event Processed", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
			WithArgs("evt_1", models.PaymentEventWebhookProcessed).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		processed, err := repo.IsEventProcessed(context.Background(), "evt_1")
		assert.NoError(t, err)
		assert.True(t, processed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
