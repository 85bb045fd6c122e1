package database

import (
	"context"
	"fmt"
)

// RunMigrations creates the booking pipeline schema if it does not exist
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	s.logger.Info("Running database migrations...")

	migrations := []string{
		createTripsTable,
		createTripStationsTable,
		createPassengersTable,
		createBookingsTable,
		createBookingsIndexes,
		createTicketsTable,
		createTicketsIndexes,
		createPaymentIntentsTable,
		createPaymentAuditsTable,
	}

	for i, migration := range migrations {
		s.logger.WithField("step", i+1).Debug("Running migration")
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	s.logger.Info("All migrations completed successfully")
	return nil
}

const createTripsTable = `
CREATE TABLE IF NOT EXISTS trips (
    id UUID PRIMARY KEY,
    available_seats INTEGER NOT NULL CHECK (available_seats >= 0),
    price NUMERIC(10, 2) NOT NULL CHECK (price >= 0),
    departure_time TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);`

const createTripStationsTable = `
CREATE TABLE IF NOT EXISTS trip_stations (
    trip_id UUID NOT NULL REFERENCES trips(id),
    station_id UUID NOT NULL,
    sequence_number INTEGER NOT NULL,
    arrival_time TIMESTAMPTZ,
    departure_time TIMESTAMPTZ,
    PRIMARY KEY (trip_id, station_id),
    UNIQUE (trip_id, sequence_number)
);`

const createPassengersTable = `
CREATE TABLE IF NOT EXISTS passengers (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id UUID PRIMARY KEY,
    passenger_id UUID NOT NULL,
    trip_id UUID NOT NULL REFERENCES trips(id),
    start_station_id UUID NOT NULL,
    end_station_id UUID NOT NULL,
    number_of_tickets INTEGER NOT NULL CHECK (number_of_tickets >= 1),
    total_price NUMERIC(10, 2) NOT NULL,
    status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled')),
    is_paid BOOLEAN NOT NULL DEFAULT FALSE,
    booking_date TIMESTAMPTZ NOT NULL,
    cancelled_at TIMESTAMPTZ,
    cancellation_reason TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    CHECK (start_station_id <> end_station_id)
);`

const createBookingsIndexes = `
CREATE INDEX IF NOT EXISTS idx_bookings_passenger ON bookings (passenger_id, booking_date DESC);
CREATE INDEX IF NOT EXISTS idx_bookings_pending ON bookings (created_at) WHERE status = 'pending' AND is_paid = FALSE;`

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    id UUID PRIMARY KEY,
    booking_id UUID REFERENCES bookings(id),
    trip_id UUID NOT NULL REFERENCES trips(id),
    passenger_id UUID NOT NULL,
    seat_index INTEGER NOT NULL,
    price NUMERIC(10, 2) NOT NULL,
    ticket_code CHAR(4) NOT NULL,
    is_used BOOLEAN NOT NULL DEFAULT FALSE,
    purchase_date TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    CONSTRAINT tickets_booking_seat_key UNIQUE (booking_id, seat_index)
);`

const createTicketsIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS tickets_active_code_key ON tickets (ticket_code) WHERE is_used = FALSE;`

const createPaymentIntentsTable = `
CREATE TABLE IF NOT EXISTS payment_intents (
    id VARCHAR(255) PRIMARY KEY,
    booking_id UUID NOT NULL REFERENCES bookings(id),
    amount NUMERIC(10, 2) NOT NULL,
    currency VARCHAR(3) NOT NULL,
    status VARCHAR(40) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_payment_intents_booking ON payment_intents (booking_id, created_at DESC);`

const createPaymentAuditsTable = `
CREATE TABLE IF NOT EXISTS payment_audits (
    id UUID PRIMARY KEY,
    booking_id UUID,
    intent_id VARCHAR(255),
    event_type VARCHAR(50) NOT NULL,
    event_source VARCHAR(30) NOT NULL,
    expected_amount NUMERIC(10, 2),
    received_amount NUMERIC(10, 2),
    currency VARCHAR(3),
    amounts_match BOOLEAN,
    payment_status VARCHAR(40),
    error_message TEXT,
    error_code VARCHAR(100),
    processing_time_ms INTEGER,
    is_duplicate BOOLEAN NOT NULL DEFAULT FALSE,
    idempotency_key VARCHAR(255),
    ip_address VARCHAR(64),
    user_agent TEXT,
    client_platform VARCHAR(30),
    correlation_id VARCHAR(255),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_payment_audits_idempotency ON payment_audits (idempotency_key, event_type);`
