package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phpdave11/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/models"
)

// TicketDocumentService renders e-ticket PDFs for confirmed bookings
type TicketDocumentService struct {
	bookings *BookingService
	logger   *logrus.Logger
}

// NewTicketDocumentService creates a new ticket document service
func NewTicketDocumentService(bookings *BookingService, logger *logrus.Logger) *TicketDocumentService {
	return &TicketDocumentService{bookings: bookings, logger: logger}
}

// GenerateTicketsPDF renders one A4 document listing every ticket of the booking
func (s *TicketDocumentService) GenerateTicketsPDF(ctx context.Context, bookingID, passengerID uuid.UUID) ([]byte, error) {
	booking, err := s.bookings.GetBookingByID(ctx, bookingID, passengerID)
	if err != nil {
		return nil, err
	}
	if !booking.IsPaid || booking.Status != models.BookingStatusConfirmed || len(booking.Tickets) == 0 {
		return nil, conflictError(ReasonTicketsNotIssued)
	}

	doc, err := renderTickets(booking)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to render ticket PDF")
		return nil, internalError(err)
	}
	return doc, nil
}

func renderTickets(booking *models.BookingWithTickets) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		"Booking      : " + booking.ID.String(),
		"Trip         : " + booking.TripID.String(),
		"Booked on    : " + booking.BookingDate.Format("2006-01-02 15:04"),
		fmt.Sprintf("Tickets      : %d", booking.NumberOfTickets),
		fmt.Sprintf("Total (LKR)  : %.2f", booking.TotalPrice),
	}
	for _, line := range lines {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(20, 8, "Seat", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 8, "Ticket code", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 8, "Price (LKR)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 8, "Used", "1", 1, "C", false, 0, "")

	pdf.SetFont("Courier", "", 12)
	for _, t := range booking.Tickets {
		used := "no"
		if t.IsUsed {
			used = "yes"
		}
		pdf.CellFormat(20, 8, fmt.Sprintf("%d", t.SeatIndex+1), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 8, t.TicketCode, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 8, fmt.Sprintf("%.2f", t.Price), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 8, used, "1", 1, "C", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Each ticket code is valid for one passenger. Show it to the conductor when boarding.", "", "", false)
	pdf.Cell(0, 6, "Generated "+time.Now().UTC().Format(time.RFC3339))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
