package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/messaging"
	"github.com/smarttransit/booking-backend/internal/metrics"
	"github.com/smarttransit/booking-backend/internal/models"
)

// Cancellation triggers, used as cancellation reasons and metric labels
const (
	CancelledByPassenger = "cancelled by passenger"
	CancelledByPayment   = "payment failed"
	CancelledByTimeout   = "payment timeout"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxPage         = 100000
)

// BookingServiceConfig holds configuration for the booking service
type BookingServiceConfig struct {
	MaxTicketsPerBooking int // Upper bound on tickets per booking (default 10)
}

// DefaultBookingServiceConfig returns default configuration
func DefaultBookingServiceConfig() BookingServiceConfig {
	return BookingServiceConfig{
		MaxTicketsPerBooking: 10,
	}
}

// CreateBookingInput is a passenger's request for seats on a trip
type CreateBookingInput struct {
	TripID          uuid.UUID
	StartStationID  uuid.UUID
	EndStationID    uuid.UUID
	NumberOfTickets int
	PassengerID     uuid.UUID
}

// BookingPage is one page of a passenger's bookings
type BookingPage struct {
	Bookings []models.Booking `json:"bookings"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// BookingService reserves seats and manages the booking lifecycle
type BookingService struct {
	store     database.Store
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	config    BookingServiceConfig
	logger    *logrus.Logger
}

// NewBookingService creates a new booking service
func NewBookingService(
	store database.Store,
	publisher messaging.Publisher,
	m *metrics.Metrics,
	config BookingServiceConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		store:     store,
		publisher: publisher,
		metrics:   m,
		config:    config,
		logger:    logger,
	}
}

// ============================================================================
// CREATE
// ============================================================================

// CreateBooking validates the request, takes the seats and persists a pending booking
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	booking, err := s.createBooking(ctx, in)
	if err != nil {
		s.metrics.BookingRejected(string(KindOf(err)))
		s.logger.WithFields(logrus.Fields{
			"trip_id":      in.TripID,
			"passenger_id": in.PassengerID,
			"tickets":      in.NumberOfTickets,
		}).WithError(err).Info("Booking rejected")
		return nil, err
	}

	s.metrics.BookingCreated()
	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"trip_id":      booking.TripID,
		"passenger_id": booking.PassengerID,
		"tickets":      booking.NumberOfTickets,
		"total_price":  booking.TotalPrice,
	}).Info("Booking created")

	s.publish(messaging.SubjectBookingCreated, booking, "")
	return booking, nil
}

func (s *BookingService) createBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	// 1. Request shape
	if in.StartStationID == in.EndStationID {
		return nil, validationError(ReasonSameStations)
	}
	if in.NumberOfTickets < 1 || in.NumberOfTickets > s.config.MaxTicketsPerBooking {
		return nil, validationError(fmt.Sprintf(ReasonTicketCount, s.config.MaxTicketsPerBooking))
	}

	// 2. Trip and early seat check
	trip, err := s.store.GetTrip(ctx, in.TripID)
	if err != nil {
		return nil, internalError(err)
	}
	if trip == nil {
		return nil, notFoundError(ReasonTripNotFound)
	}
	if trip.AvailableSeats < in.NumberOfTickets {
		return nil, conflictError(ReasonNotEnoughSeats)
	}

	// 3. Stations on route, in travel order
	start := trip.FindStation(in.StartStationID)
	end := trip.FindStation(in.EndStationID)
	if start == nil || end == nil {
		return nil, validationError(ReasonStationsNotOnTrip)
	}
	if start.SequenceNumber >= end.SequenceNumber {
		return nil, validationError(ReasonStationOrder)
	}

	// 4. Passenger profile
	exists, err := s.store.PassengerExists(ctx, in.PassengerID)
	if err != nil {
		return nil, internalError(err)
	}
	if !exists {
		return nil, notFoundError(ReasonPassengerNotFound)
	}

	booking := &models.Booking{
		BaseEntity:      models.NewBaseEntity(),
		PassengerID:     in.PassengerID,
		TripID:          in.TripID,
		StartStationID:  in.StartStationID,
		EndStationID:    in.EndStationID,
		NumberOfTickets: in.NumberOfTickets,
		TotalPrice:      trip.Price * float64(in.NumberOfTickets),
		Status:          models.BookingStatusPending,
		IsPaid:          false,
		BookingDate:     time.Now().UTC(),
	}

	// 5. Take seats and persist in one transaction
	err = s.store.InTx(ctx, func(repos database.Repositories) error {
		if err := repos.ReserveSeats(ctx, in.TripID, in.NumberOfTickets); err != nil {
			if errors.Is(err, database.ErrInsufficientSeats) {
				return conflictError(ReasonNotEnoughSeats)
			}
			return err
		}
		return repos.InsertBooking(ctx, booking)
	})
	if err != nil {
		return nil, internalError(err)
	}

	return booking, nil
}

// ============================================================================
// CANCEL
// ============================================================================

// CancelBooking cancels the passenger's booking and returns its seats to the trip
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, passengerID uuid.UUID) error {
	var booking *models.Booking

	err := s.store.InTx(ctx, func(repos database.Repositories) error {
		var err error
		booking, err = repos.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return notFoundError(ReasonBookingNotFound)
		}
		if booking.PassengerID != passengerID {
			return forbiddenError(ReasonNotBookingOwner)
		}
		if !booking.Status.CanTransitionTo(models.BookingStatusCancelled) {
			return conflictError(ReasonAlreadyCancelled)
		}

		used, err := repos.HasUsedTickets(ctx, bookingID)
		if err != nil {
			return err
		}
		if used {
			return conflictError(ReasonTicketsUsed)
		}

		return cancelAndRelease(ctx, repos, booking, CancelledByPassenger)
	})
	if err != nil {
		return internalError(err)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"booking_id":   bookingID,
		"passenger_id": passengerID,
		"seats":        booking.NumberOfTickets,
	})
	if booking.IsPaid {
		logger.Warn("Paid booking cancelled, refund must be issued manually")
	} else {
		logger.Info("Booking cancelled")
	}

	s.metrics.BookingCancelled(CancelledByPassenger)
	s.publish(messaging.SubjectBookingCancelled, booking, CancelledByPassenger)
	return nil
}

// CancelUnpaid cancels a booking that is still pending and unpaid and returns
// its seats. Paid or already cancelled bookings are left alone and false is returned.
func (s *BookingService) CancelUnpaid(ctx context.Context, bookingID uuid.UUID, reason string) (bool, error) {
	var booking *models.Booking
	cancelled := false

	err := s.store.InTx(ctx, func(repos database.Repositories) error {
		var err error
		booking, err = repos.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return notFoundError(ReasonBookingNotFound)
		}
		if booking.IsPaid || booking.Status != models.BookingStatusPending {
			return nil
		}
		if err := cancelAndRelease(ctx, repos, booking, reason); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, internalError(err)
	}
	if !cancelled {
		return false, nil
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"reason":     reason,
		"seats":      booking.NumberOfTickets,
	}).Info("Unpaid booking cancelled")

	s.metrics.BookingCancelled(reason)
	s.publish(messaging.SubjectBookingCancelled, booking, reason)
	return true, nil
}

// cancelAndRelease moves a locked booking to cancelled and returns its seats
func cancelAndRelease(ctx context.Context, repos database.Repositories, booking *models.Booking, reason string) error {
	ok, err := repos.CancelBooking(ctx, booking.ID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return conflictError(ReasonAlreadyCancelled)
	}
	if err := repos.ReleaseSeats(ctx, booking.TripID, booking.NumberOfTickets); err != nil {
		return err
	}

	now := time.Now().UTC()
	booking.Status = models.BookingStatusCancelled
	booking.CancelledAt = &now
	booking.CancellationReason = &reason
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

// GetBookingByID returns the booking and its tickets to its owner
func (s *BookingService) GetBookingByID(ctx context.Context, bookingID, passengerID uuid.UUID) (*models.BookingWithTickets, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, internalError(err)
	}
	if booking == nil {
		return nil, notFoundError(ReasonBookingNotFound)
	}
	if booking.PassengerID != passengerID {
		return nil, forbiddenError(ReasonNotBookingOwner)
	}

	tickets, err := s.store.ListTicketsByBooking(ctx, bookingID)
	if err != nil {
		return nil, internalError(err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}

	return &models.BookingWithTickets{Booking: *booking, Tickets: tickets}, nil
}

// GetPassengerBookings returns a page of the passenger's bookings, newest first
func (s *BookingService) GetPassengerBookings(ctx context.Context, passengerID uuid.UUID, page, pageSize int) (*BookingPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page > maxPage {
		page = maxPage
	}

	bookings, total, err := s.store.ListBookingsByPassenger(ctx, passengerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, internalError(err)
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}

	return &BookingPage{Bookings: bookings, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *BookingService) publish(subject string, booking *models.Booking, reason string) {
	event := messaging.BookingEvent{
		BookingID:       booking.ID,
		PassengerID:     booking.PassengerID,
		TripID:          booking.TripID,
		Status:          string(booking.Status),
		NumberOfTickets: booking.NumberOfTickets,
		TotalPrice:      booking.TotalPrice,
		Reason:          reason,
		OccurredAt:      time.Now().UTC(),
	}
	if err := s.publisher.Publish(subject, event); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to publish booking event")
	}
}
