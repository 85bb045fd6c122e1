package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/messaging"
	"github.com/smarttransit/booking-backend/internal/metrics"
	"github.com/smarttransit/booking-backend/internal/models"
)

const (
	// ticketCodeAlphabet omits 0/O and 1/I. 32 symbols keep crypto/rand bytes unbiased.
	ticketCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxCodeAttempts  = 10
	maxIssueAttempts = 3
)

// IssueResult is the ticket batch of a paid booking
type IssueResult struct {
	Booking       *models.Booking
	Tickets       []models.Ticket
	AlreadyIssued bool
}

// TicketIDs returns the ids of the batch in seat order
func (r *IssueResult) TicketIDs() []uuid.UUID {
	return models.TicketIDs(r.Tickets)
}

// TicketIssuer marks bookings paid and mints their tickets exactly once. Both
// the client confirm path and the webhook path call Issue.
type TicketIssuer struct {
	store     database.Store
	locker    Locker
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	newCode   func() (string, error)
}

// NewTicketIssuer creates a new ticket issuer
func NewTicketIssuer(
	store database.Store,
	locker Locker,
	publisher messaging.Publisher,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *TicketIssuer {
	return &TicketIssuer{
		store:     store,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		newCode:   generateTicketCode,
	}
}

// Issue runs mark-paid-and-issue-tickets for the booking. Calling it again for a
// paid booking returns the stored batch with AlreadyIssued set.
func (s *TicketIssuer) Issue(ctx context.Context, bookingID uuid.UUID) (*IssueResult, error) {
	unlock, err := s.locker.Lock(ctx, "booking:"+bookingID.String())
	if err != nil {
		return nil, internalError(fmt.Errorf("failed to lock booking: %w", err))
	}
	defer unlock()

	var result *IssueResult
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		result, err = s.issueOnce(ctx, bookingID)
		if !errors.Is(err, database.ErrTicketCodeConflict) {
			break
		}
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"attempt":    attempt,
		}).Warn("Ticket code collision, regenerating batch")
	}
	if err != nil {
		return nil, internalError(err)
	}

	s.metrics.TicketsIssued(len(result.Tickets), result.AlreadyIssued)
	if result.AlreadyIssued {
		s.logger.WithField("booking_id", bookingID).Info("Tickets already issued, returning existing batch")
		return result, nil
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   bookingID,
		"passenger_id": result.Booking.PassengerID,
		"tickets":      len(result.Tickets),
	}).Info("Booking confirmed and tickets issued")

	s.publish(result)
	return result, nil
}

func (s *TicketIssuer) issueOnce(ctx context.Context, bookingID uuid.UUID) (*IssueResult, error) {
	var result *IssueResult

	err := s.store.InTx(ctx, func(repos database.Repositories) error {
		// 1. Load booking, row locked until commit
		booking, err := repos.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return notFoundError(ReasonBookingNotFound)
		}

		if booking.IsPaid {
			tickets, err := repos.ListTicketsByBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			result = &IssueResult{Booking: booking, Tickets: tickets, AlreadyIssued: true}
			return nil
		}
		if booking.Status == models.BookingStatusCancelled {
			return conflictError(ReasonCancelledBeforePaid)
		}

		// 2. Mark paid
		marked, err := repos.MarkBookingPaid(ctx, bookingID)
		if err != nil {
			return err
		}
		if !marked {
			return conflictError(ReasonNotPending)
		}
		booking.IsPaid = true
		booking.Status = models.BookingStatusConfirmed

		// 3. Mint one ticket per seat
		tickets, err := s.mintTickets(ctx, repos, booking)
		if err != nil {
			return err
		}

		// 4. Persist the batch
		if err := repos.InsertTickets(ctx, tickets); err != nil {
			return err
		}

		result = &IssueResult{Booking: booking, Tickets: tickets}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TicketIssuer) mintTickets(ctx context.Context, repos database.Repositories, booking *models.Booking) ([]models.Ticket, error) {
	price := math.Round(booking.TotalPrice/float64(booking.NumberOfTickets)*100) / 100
	now := time.Now().UTC()
	bookingID := booking.ID
	batchCodes := make(map[string]bool, booking.NumberOfTickets)

	tickets := make([]models.Ticket, 0, booking.NumberOfTickets)
	for i := 0; i < booking.NumberOfTickets; i++ {
		code, err := s.uniqueCode(ctx, repos, batchCodes)
		if err != nil {
			return nil, err
		}
		batchCodes[code] = true

		tickets = append(tickets, models.Ticket{
			BaseEntity:   models.NewBaseEntity(),
			BookingID:    &bookingID,
			TripID:       booking.TripID,
			PassengerID:  booking.PassengerID,
			SeatIndex:    i,
			Price:        price,
			TicketCode:   code,
			IsUsed:       false,
			PurchaseDate: now,
		})
	}
	return tickets, nil
}

func (s *TicketIssuer) uniqueCode(ctx context.Context, repos database.Repositories, batch map[string]bool) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		if batch[code] {
			continue
		}
		inUse, err := repos.TicketCodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique ticket code after %d attempts", maxCodeAttempts)
}

func (s *TicketIssuer) publish(result *IssueResult) {
	codes := make([]string, 0, len(result.Tickets))
	for _, t := range result.Tickets {
		codes = append(codes, t.TicketCode)
	}
	event := messaging.BookingEvent{
		BookingID:       result.Booking.ID,
		PassengerID:     result.Booking.PassengerID,
		TripID:          result.Booking.TripID,
		Status:          string(result.Booking.Status),
		NumberOfTickets: result.Booking.NumberOfTickets,
		TotalPrice:      result.Booking.TotalPrice,
		TicketCodes:     codes,
		OccurredAt:      time.Now().UTC(),
	}
	if err := s.publisher.Publish(messaging.SubjectBookingConfirmed, event); err != nil {
		s.logger.WithError(err).WithField("booking_id", result.Booking.ID).Warn("Failed to publish booking confirmed event")
	}
}

// generateTicketCode returns a random code of models.TicketCodeLength symbols
func generateTicketCode() (string, error) {
	buf := make([]byte, models.TicketCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = ticketCodeAlphabet[int(b)%len(ticketCodeAlphabet)]
	}
	return string(buf), nil
}
