package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/models"
)

// Repositories is every persistence operation the booking pipeline uses.
// Get* methods return nil, nil when the row does not exist.
type Repositories interface {
	GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error)
	ReserveSeats(ctx context.Context, tripID uuid.UUID, seats int) error
	ReleaseSeats(ctx context.Context, tripID uuid.UUID, seats int) error

	PassengerExists(ctx context.Context, passengerID uuid.UUID) (bool, error)

	InsertBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	ListBookingsByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]models.Booking, int, error)
	ListStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]models.Booking, error)
	MarkBookingPaid(ctx context.Context, bookingID uuid.UUID) (bool, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (bool, error)

	InsertTickets(ctx context.Context, tickets []models.Ticket) error
	ListTicketsByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Ticket, error)
	HasUsedTickets(ctx context.Context, bookingID uuid.UUID) (bool, error)
	TicketCodeInUse(ctx context.Context, code string) (bool, error)

	SavePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetPaymentIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error)
	GetOpenPaymentIntent(ctx context.Context, bookingID uuid.UUID) (*models.PaymentIntent, error)
	ListPaymentIntentsByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, intentID, status string) error

	LogPaymentAudit(ctx context.Context, audit *models.PaymentAudit) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// Store is the transactional boundary of the booking pipeline. InTx commits
// when fn returns nil and rolls back otherwise.
type Store interface {
	Repositories
	InTx(ctx context.Context, fn func(repos Repositories) error) error
	Ping(ctx context.Context) error
}

// repositories groups the table repositories bound to one Queryer
type repositories struct {
	*TripRepository
	*PassengerRepository
	*BookingRepository
	*TicketRepository
	*PaymentIntentRepository
	*PaymentAuditRepository
}

func newRepositories(q Queryer, logger *logrus.Logger) *repositories {
	return &repositories{
		TripRepository:          NewTripRepository(q),
		PassengerRepository:     NewPassengerRepository(q),
		BookingRepository:       NewBookingRepository(q),
		TicketRepository:        NewTicketRepository(q),
		PaymentIntentRepository: NewPaymentIntentRepository(q),
		PaymentAuditRepository:  NewPaymentAuditRepository(q, logger),
	}
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	*repositories
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a store on an open connection
func NewPostgresStore(db *sqlx.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		repositories: newRepositories(db, logger),
		db:           db,
		logger:       logger,
	}
}

// InTx runs fn inside a single database transaction
func (s *PostgresStore) InTx(ctx context.Context, fn func(repos Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newRepositories(tx, s.logger)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping verifies the connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var (
	_ Store        = (*PostgresStore)(nil)
	_ Store        = (*MemoryStore)(nil)
	_ Repositories = (*memoryState)(nil)
)
