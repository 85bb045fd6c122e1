package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-backend/internal/models"
)

// MemoryStore is an in-process Store for local development and tests.
// Transactions are serialized and rolled back by restoring a snapshot.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// SeedTrip adds or replaces a trip
func (s *MemoryStore) SeedTrip(trip models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stations := append([]models.TripStation(nil), trip.Stations...)
	sort.Slice(stations, func(i, j int) bool { return stations[i].SequenceNumber < stations[j].SequenceNumber })
	trip.Stations = stations
	s.state.trips[trip.ID] = trip
}

// SeedPassenger registers a passenger profile
func (s *MemoryStore) SeedPassenger(passengerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.passengers[passengerID] = true
}

// Audits returns a copy of the payment audit log in insertion order
func (s *MemoryStore) Audits() []models.PaymentAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentAudit(nil), s.state.audits...)
}

// InTx runs fn with exclusive access to the store
func (s *MemoryStore) InTx(ctx context.Context, fn func(repos Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.state); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) locked(fn func(st *memoryState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *MemoryStore) GetTrip(ctx context.Context, tripID uuid.UUID) (trip *models.Trip, err error) {
	err = s.locked(func(st *memoryState) error { trip, err = st.GetTrip(ctx, tripID); return err })
	return trip, err
}

func (s *MemoryStore) ReserveSeats(ctx context.Context, tripID uuid.UUID, seats int) error {
	return s.locked(func(st *memoryState) error { return st.ReserveSeats(ctx, tripID, seats) })
}

func (s *MemoryStore) ReleaseSeats(ctx context.Context, tripID uuid.UUID, seats int) error {
	return s.locked(func(st *memoryState) error { return st.ReleaseSeats(ctx, tripID, seats) })
}

func (s *MemoryStore) PassengerExists(ctx context.Context, passengerID uuid.UUID) (ok bool, err error) {
	err = s.locked(func(st *memoryState) error { ok, err = st.PassengerExists(ctx, passengerID); return err })
	return ok, err
}

func (s *MemoryStore) InsertBooking(ctx context.Context, booking *models.Booking) error {
	return s.locked(func(st *memoryState) error { return st.InsertBooking(ctx, booking) })
}

func (s *MemoryStore) GetBooking(ctx context.Context, bookingID uuid.UUID) (b *models.Booking, err error) {
	err = s.locked(func(st *memoryState) error { b, err = st.GetBooking(ctx, bookingID); return err })
	return b, err
}

func (s *MemoryStore) GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return s.GetBooking(ctx, bookingID)
}

func (s *MemoryStore) ListBookingsByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) (items []models.Booking, total int, err error) {
	err = s.locked(func(st *memoryState) error {
		items, total, err = st.ListBookingsByPassenger(ctx, passengerID, limit, offset)
		return err
	})
	return items, total, err
}

func (s *MemoryStore) ListStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) (items []models.Booking, err error) {
	err = s.locked(func(st *memoryState) error {
		items, err = st.ListStalePendingBookings(ctx, createdBefore, limit)
		return err
	})
	return items, err
}

func (s *MemoryStore) MarkBookingPaid(ctx context.Context, bookingID uuid.UUID) (ok bool, err error) {
	err = s.locked(func(st *memoryState) error { ok, err = st.MarkBookingPaid(ctx, bookingID); return err })
	return ok, err
}

func (s *MemoryStore) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (ok bool, err error) {
	err = s.locked(func(st *memoryState) error { ok, err = st.CancelBooking(ctx, bookingID, reason); return err })
	return ok, err
}

func (s *MemoryStore) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	return s.locked(func(st *memoryState) error { return st.InsertTickets(ctx, tickets) })
}

func (s *MemoryStore) ListTicketsByBooking(ctx context.Context, bookingID uuid.UUID) (items []models.Ticket, err error) {
	err = s.locked(func(st *memoryState) error { items, err = st.ListTicketsByBooking(ctx, bookingID); return err })
	return items, err
}

func (s *MemoryStore) HasUsedTickets(ctx context.Context, bookingID uuid.UUID) (ok bool, err error) {
	err = s.locked(func(st *memoryState) error { ok, err = st.HasUsedTickets(ctx, bookingID); return err })
	return ok, err
}

func (s *MemoryStore) TicketCodeInUse(ctx context.Context, code string) (ok bool, err error) {
	err = s.locked(func(st *memoryState) error { ok, err = st.TicketCodeInUse(ctx, code); return err })
	return ok, err
}

func (s *MemoryStore) SavePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return s.locked(func(st *memoryState) error { return st.SavePaymentIntent(ctx, intent) })
}

func (s *MemoryStore) GetPaymentIntent(ctx context.Context, intentID string) (p *models.PaymentIntent, err error) {
	err = s.locked(func(st *memoryState) error { p, err = st.GetPaymentIntent(ctx, intentID); return err })
	return p, err
}

func (s *MemoryStore) GetOpenPaymentIntent(ctx context.Context, bookingID uuid.UUID) (p *models.PaymentIntent, err error) {
	err = s.locked(func(st *memoryState) error { p, err = st.GetOpenPaymentIntent(ctx, bookingID); return err })
	return p, err
}

func (s *MemoryStore) ListPaymentIntentsByBooking(ctx context.Context, bookingID uuid.UUID) (items []models.PaymentIntent, err error) {
	err = s.locked(func(st *memoryState) error { items, err = st.ListPaymentIntentsByBooking(ctx, bookingID); return err })
	return items, err
}

func (s *MemoryStore) UpdatePaymentIntentStatus(ctx context.Context, intentID, status string) error {
	return s.locked(func(st *memoryState) error { return st.UpdatePaymentIntentStatus(ctx, intentID, status) })
}

func (s *MemoryStore) LogPaymentAudit(ctx context.Context, audit *models.PaymentAudit) error {
	return s.locked(func(st *memoryState) error { return st.LogPaymentAudit(ctx, audit) })
}

func (s *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (ok bool, err error) {
	err = s.locked(func(st *memoryState) error { ok, err = st.IsEventProcessed(ctx, eventID); return err })
	return ok, err
}

// memoryState holds the tables and implements Repositories without locking
type memoryState struct {
	trips      map[uuid.UUID]models.Trip
	passengers map[uuid.UUID]bool
	bookings   map[uuid.UUID]models.Booking
	tickets    map[uuid.UUID]models.Ticket
	intents    map[string]models.PaymentIntent
	audits     []models.PaymentAudit
}

func newMemoryState() *memoryState {
	return &memoryState{
		trips:      map[uuid.UUID]models.Trip{},
		passengers: map[uuid.UUID]bool{},
		bookings:   map[uuid.UUID]models.Booking{},
		tickets:    map[uuid.UUID]models.Ticket{},
		intents:    map[string]models.PaymentIntent{},
	}
}

// clone copies every table. Trip stations are never mutated after seeding and are shared.
func (st *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range st.trips {
		c.trips[k] = v
	}
	for k, v := range st.passengers {
		c.passengers[k] = v
	}
	for k, v := range st.bookings {
		c.bookings[k] = v
	}
	for k, v := range st.tickets {
		c.tickets[k] = v
	}
	for k, v := range st.intents {
		c.intents[k] = v
	}
	c.audits = append([]models.PaymentAudit(nil), st.audits...)
	return c
}

func (st *memoryState) GetTrip(_ context.Context, tripID uuid.UUID) (*models.Trip, error) {
	trip, ok := st.trips[tripID]
	if !ok || trip.IsDeleted {
		return nil, nil
	}
	trip.Stations = append([]models.TripStation(nil), trip.Stations...)
	return &trip, nil
}

func (st *memoryState) ReserveSeats(_ context.Context, tripID uuid.UUID, seats int) error {
	trip, ok := st.trips[tripID]
	if !ok || trip.IsDeleted || trip.AvailableSeats < seats {
		return ErrInsufficientSeats
	}
	trip.AvailableSeats -= seats
	trip.UpdatedAt = time.Now().UTC()
	st.trips[tripID] = trip
	return nil
}

func (st *memoryState) ReleaseSeats(_ context.Context, tripID uuid.UUID, seats int) error {
	trip, ok := st.trips[tripID]
	if !ok {
		return ErrTripNotFound
	}
	trip.AvailableSeats += seats
	trip.UpdatedAt = time.Now().UTC()
	st.trips[tripID] = trip
	return nil
}

func (st *memoryState) PassengerExists(_ context.Context, passengerID uuid.UUID) (bool, error) {
	return st.passengers[passengerID], nil
}

func (st *memoryState) InsertBooking(_ context.Context, booking *models.Booking) error {
	st.bookings[booking.ID] = *booking
	return nil
}

func (st *memoryState) GetBooking(_ context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	b, ok := st.bookings[bookingID]
	if !ok || b.IsDeleted {
		return nil, nil
	}
	return &b, nil
}

func (st *memoryState) GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return st.GetBooking(ctx, bookingID)
}

func (st *memoryState) ListBookingsByPassenger(_ context.Context, passengerID uuid.UUID, limit, offset int) ([]models.Booking, int, error) {
	all := []models.Booking{}
	for _, b := range st.bookings {
		if b.PassengerID == passengerID && !b.IsDeleted {
			all = append(all, b)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].BookingDate.After(all[j].BookingDate) })

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []models.Booking{}, total, nil
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (st *memoryState) ListStalePendingBookings(_ context.Context, createdBefore time.Time, limit int) ([]models.Booking, error) {
	stale := []models.Booking{}
	for _, b := range st.bookings {
		if b.Status == models.BookingStatusPending && !b.IsPaid && !b.IsDeleted && b.CreatedAt.Before(createdBefore) {
			stale = append(stale, b)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (st *memoryState) MarkBookingPaid(_ context.Context, bookingID uuid.UUID) (bool, error) {
	b, ok := st.bookings[bookingID]
	if !ok || b.IsPaid || b.Status != models.BookingStatusPending {
		return false, nil
	}
	b.IsPaid = true
	b.Status = models.BookingStatusConfirmed
	b.UpdatedAt = time.Now().UTC()
	st.bookings[bookingID] = b
	return true, nil
}

func (st *memoryState) CancelBooking(_ context.Context, bookingID uuid.UUID, reason string) (bool, error) {
	b, ok := st.bookings[bookingID]
	if !ok || b.Status == models.BookingStatusCancelled {
		return false, nil
	}
	now := time.Now().UTC()
	b.Status = models.BookingStatusCancelled
	b.CancelledAt = &now
	b.CancellationReason = &reason
	b.UpdatedAt = now
	st.bookings[bookingID] = b
	return true, nil
}

func (st *memoryState) InsertTickets(_ context.Context, tickets []models.Ticket) error {
	type seatKey struct {
		booking uuid.UUID
		seat    int
	}
	seats := map[seatKey]bool{}
	codes := map[string]bool{}
	for _, t := range st.tickets {
		if t.BookingID != nil {
			seats[seatKey{*t.BookingID, t.SeatIndex}] = true
		}
		if !t.IsUsed {
			codes[t.TicketCode] = true
		}
	}

	for _, t := range tickets {
		if t.BookingID != nil {
			key := seatKey{*t.BookingID, t.SeatIndex}
			if seats[key] {
				return ErrTicketsAlreadyIssued
			}
			seats[key] = true
		}
		if codes[t.TicketCode] {
			return ErrTicketCodeConflict
		}
		codes[t.TicketCode] = true
	}

	for _, t := range tickets {
		st.tickets[t.ID] = t
	}
	return nil
}

func (st *memoryState) ListTicketsByBooking(_ context.Context, bookingID uuid.UUID) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	for _, t := range st.tickets {
		if t.BookingID != nil && *t.BookingID == bookingID && !t.IsDeleted {
			tickets = append(tickets, t)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].SeatIndex < tickets[j].SeatIndex })
	return tickets, nil
}

func (st *memoryState) HasUsedTickets(_ context.Context, bookingID uuid.UUID) (bool, error) {
	for _, t := range st.tickets {
		if t.BookingID != nil && *t.BookingID == bookingID && t.IsUsed {
			return true, nil
		}
	}
	return false, nil
}

func (st *memoryState) TicketCodeInUse(_ context.Context, code string) (bool, error) {
	for _, t := range st.tickets {
		if t.TicketCode == code && !t.IsUsed {
			return true, nil
		}
	}
	return false, nil
}

func (st *memoryState) SavePaymentIntent(_ context.Context, intent *models.PaymentIntent) error {
	now := time.Now().UTC()
	existing, ok := st.intents[intent.ID]
	if ok {
		if existing.BookingID != intent.BookingID {
			return ErrIntentBookingConflict
		}
		existing.Status = intent.Status
		existing.UpdatedAt = now
		st.intents[intent.ID] = existing
		return nil
	}
	stored := *intent
	stored.CreatedAt = now
	stored.UpdatedAt = now
	st.intents[intent.ID] = stored
	return nil
}

func (st *memoryState) GetPaymentIntent(_ context.Context, intentID string) (*models.PaymentIntent, error) {
	p, ok := st.intents[intentID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (st *memoryState) GetOpenPaymentIntent(_ context.Context, bookingID uuid.UUID) (*models.PaymentIntent, error) {
	var newest *models.PaymentIntent
	for _, p := range st.intents {
		if p.BookingID != bookingID || !p.IsOpen() {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			candidate := p
			newest = &candidate
		}
	}
	return newest, nil
}

func (st *memoryState) ListPaymentIntentsByBooking(_ context.Context, bookingID uuid.UUID) ([]models.PaymentIntent, error) {
	items := []models.PaymentIntent{}
	for _, p := range st.intents {
		if p.BookingID == bookingID {
			items = append(items, p)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (st *memoryState) UpdatePaymentIntentStatus(_ context.Context, intentID, status string) error {
	if p, ok := st.intents[intentID]; ok {
		p.Status = status
		p.UpdatedAt = time.Now().UTC()
		st.intents[intentID] = p
	}
	return nil
}

func (st *memoryState) LogPaymentAudit(_ context.Context, audit *models.PaymentAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}
	st.audits = append(st.audits, *audit)
	return nil
}

func (st *memoryState) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	for _, a := range st.audits {
		if a.EventType == models.PaymentEventWebhookProcessed && !a.IsDuplicate &&
			a.IdempotencyKey != nil && *a.IdempotencyKey == eventID {
			return true, nil
		}
	}
	return false, nil
}
