package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestReserveSeats(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTripRepository(db)
	tripID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE trips SET available_seats = available_seats - \$2`).
			WithArgs(tripID, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.ReserveSeats(context.Background(), tripID, 3)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Guard Rejects Oversell", func(t *testing.T) {
		mock.ExpectExec(`available_seats >= \$2`).
			WithArgs(tripID, 3).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.ReserveSeats(context.Background(), tripID, 3)
		assert.ErrorIs(t, err, ErrInsufficientSeats)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`UPDATE trips`).
			WithArgs(tripID, 1).
			WillReturnError(fmt.Errorf("connection reset"))

		err := repo.ReserveSeats(context.Background(), tripID, 1)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInsufficientSeats)
		assert.Contains(t, err.Error(), "failed to reserve seats")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReleaseSeats(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTripRepository(db)
	tripID := uuid.New()

	mock.ExpectExec(`UPDATE trips SET available_seats = available_seats \+ \$2`).
		WithArgs(tripID, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.ReleaseSeats(context.Background(), tripID, 3))

	mock.ExpectExec(`UPDATE trips`).
		WithArgs(tripID, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.ReleaseSeats(context.Background(), tripID, 3), ErrTripNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTrip(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTripRepository(db)
	tripID := uuid.New()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		a, b := uuid.New(), uuid.New()
		mock.ExpectQuery(`SELECT (.+) FROM trips`).
			WithArgs(tripID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "available_seats", "price", "departure_time", "created_at", "updated_at", "is_deleted",
			}).AddRow(tripID.String(), 5, 100.0, now, now, now, false))
		mock.ExpectQuery(`SELECT (.+) FROM trip_stations`).
			WithArgs(tripID).
			WillReturnRows(sqlmock.NewRows([]string{
				"trip_id", "station_id", "sequence_number", "arrival_time", "departure_time",
			}).
				AddRow(tripID.String(), a.String(), 1, nil, now).
				AddRow(tripID.String(), b.String(), 2, now, nil))

		trip, err := repo.GetTrip(context.Background(), tripID)
		require.NoError(t, err)
		require.NotNil(t, trip)
		assert.Equal(t, 5, trip.AvailableSeats)
		assert.Equal(t, 100.0, trip.Price)
		require.Len(t, trip.Stations, 2)
		assert.Equal(t, a, trip.Stations[0].StationID)
		assert.Nil(t, trip.Stations[0].ArrivalTime)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM trips`).
			WithArgs(tripID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		trip, err := repo.GetTrip(context.Background(), tripID)
		assert.NoError(t, err)
		assert.Nil(t, trip)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
