package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/services"
	"github.com/smarttransit/booking-backend/internal/utils"
)

// CreateBookingRequest is the body of POST /bookings. Ticket count and station
// rules are checked by the booking service so their order is preserved.
type CreateBookingRequest struct {
	TripID          string `json:"trip_id" binding:"required,uuid"`
	StartStationID  string `json:"start_station_id" binding:"required,uuid"`
	EndStationID    string `json:"end_station_id" binding:"required,uuid"`
	NumberOfTickets int    `json:"number_of_tickets"`
}

// SimulatedPaymentRequest is the body of the legacy POST /bookings/payment
type SimulatedPaymentRequest struct {
	BookingID string `json:"booking_id" binding:"required,uuid"`
}

// BookingHandler handles passenger booking operations
type BookingHandler struct {
	bookings       *services.BookingService
	payments       *services.PaymentService
	documents      *services.TicketDocumentService
	allowSimulated bool
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	bookings *services.BookingService,
	payments *services.PaymentService,
	documents *services.TicketDocumentService,
	allowSimulated bool,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		bookings:       bookings,
		payments:       payments,
		documents:      documents,
		allowSimulated: allowSimulated,
		logger:         logger,
	}
}

// CreateBooking reserves seats and creates a pending booking
// @Summary Create a booking
// @Description Reserve seats on a trip between two stations (passenger app)
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body CreateBookingRequest true "Booking request"
// @Success 201 {object} models.Booking "Booking created"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Trip or passenger not found"
// @Failure 409 {object} ErrorResponse "Not enough seats"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if !bindJSON(c, &req) {
		return
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), services.CreateBookingInput{
		TripID:          uuid.MustParse(req.TripID),
		StartStationID:  uuid.MustParse(req.StartStationID),
		EndStationID:    uuid.MustParse(req.EndStationID),
		NumberOfTickets: req.NumberOfTickets,
		PassengerID:     userCtx.UserID,
	})
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"passenger_id": userCtx.UserID,
			"trip_id":      req.TripID,
		})
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking returns one of the passenger's bookings with its tickets
// @Summary Get booking by ID
// @Description Get a booking of the authenticated passenger with its tickets
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.BookingWithTickets "Booking details"
// @Failure 400 {object} ErrorResponse "Invalid booking ID"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Booking belongs to another passenger"
// @Failure 404 {object} ErrorResponse "Booking not found"
// @Security BearerAuth
// @Router /api/v1/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBookingByID(c.Request.Context(), bookingID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"booking_id": bookingID})
		return
	}

	c.JSON(http.StatusOK, booking)
}

// GetMyBookings lists the passenger's bookings, newest first
// @Summary Get my bookings
// @Description Page through the bookings of the authenticated passenger
// @Tags Bookings
// @Produce json
// @Param page query int false "Page" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} map[string]interface{} "Bookings page"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings/my-bookings [get]
func (h *BookingHandler) GetMyBookings(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "0"))

	result, err := h.bookings.GetPassengerBookings(c.Request.Context(), userCtx.UserID, page, pageSize)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"passenger_id": userCtx.UserID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings":  result.Bookings,
		"total":     result.Total,
		"page":      result.Page,
		"page_size": result.PageSize,
	})
}

// CancelBooking cancels one of the passenger's bookings and returns its seats
// @Summary Cancel a booking
// @Description Cancel a pending or confirmed booking and release its seats
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{} "Booking cancelled"
// @Failure 400 {object} ErrorResponse "Invalid booking ID"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Booking belongs to another passenger"
// @Failure 404 {object} ErrorResponse "Booking not found"
// @Failure 409 {object} ErrorResponse "Booking cannot be cancelled"
// @Security BearerAuth
// @Router /api/v1/bookings/cancel/{id} [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.bookings.CancelBooking(c.Request.Context(), bookingID, userCtx.UserID); err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"booking_id":   bookingID,
			"passenger_id": userCtx.UserID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Booking cancelled successfully",
		"booking_id": bookingID,
	})
}

// GetTicketsPDF renders the e-ticket of a confirmed booking
// @Summary Download e-tickets
// @Description Render the tickets of a confirmed booking as a PDF
// @Tags Bookings
// @Produce application/pdf
// @Param id path string true "Booking ID"
// @Success 200 {file} file "Ticket PDF"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Booking not found"
// @Failure 409 {object} ErrorResponse "Booking is not confirmed"
// @Security BearerAuth
// @Router /api/v1/bookings/{id}/tickets/pdf [get]
func (h *BookingHandler) GetTicketsPDF(c *gin.Context) {
	userCtx, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	pdf, err := h.documents.GenerateTicketsPDF(c.Request.Context(), bookingID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"booking_id": bookingID})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="tickets-%s.pdf"`, bookingID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// SimulatePayment marks a booking paid without a provider round trip. Only
// available when PAYMENT_ALLOW_SIMULATED is set.
// @Summary Simulate a payment
// @Description Confirm a pending booking without the payment provider (development only)
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body SimulatedPaymentRequest true "Booking to pay"
// @Success 200 {object} services.PaymentResult "Booking paid"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Simulated payments are disabled"
// @Failure 409 {object} ErrorResponse "Booking is not awaiting payment"
// @Security BearerAuth
// @Router /api/v1/bookings/payment [post]
func (h *BookingHandler) SimulatePayment(c *gin.Context) {
	if !h.allowSimulated {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   string(services.KindNotFound),
			Message: "Simulated payments are disabled",
			Details: []string{},
		})
		return
	}

	userCtx, ok := currentUser(c)
	if !ok {
		return
	}

	var req SimulatedPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	bookingID := uuid.MustParse(req.BookingID)

	result, err := h.payments.ConfirmSimulated(c.Request.Context(), bookingID, userCtx.UserID, utils.RequestMetadata(c))
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"booking_id":   bookingID,
			"passenger_id": userCtx.UserID,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
