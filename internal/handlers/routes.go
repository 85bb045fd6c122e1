package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/middleware"
	"github.com/smarttransit/booking-backend/pkg/jwt"
)

// Routes is everything RegisterRoutes mounts under /api/v1
type Routes struct {
	JWT      *jwt.Service
	Bookings *BookingHandler
	Payments *PaymentHandler
	Logger   *logrus.Logger
}

// RegisterRoutes mounts the booking and payment API on router
func RegisterRoutes(router *gin.Engine, r Routes) {
	auth := middleware.AuthMiddleware(r.JWT, r.Logger)

	v1 := router.Group("/api/v1")
	{
		bookings := v1.Group("/bookings")
		bookings.Use(auth, middleware.RequireRole(jwt.RolePassenger))
		{
			bookings.POST("", r.Bookings.CreateBooking)
			bookings.GET("/my-bookings", r.Bookings.GetMyBookings)
			bookings.POST("/payment", r.Bookings.SimulatePayment)
			bookings.POST("/cancel/:id", r.Bookings.CancelBooking)
			bookings.GET("/:id", r.Bookings.GetBooking)
			bookings.GET("/:id/tickets/pdf", r.Bookings.GetTicketsPDF)
		}

		payments := v1.Group("/payments")
		{
			// Provider callback, authenticated by signature
			payments.POST("/webhook", r.Payments.HandleWebhook)

			passenger := payments.Group("")
			passenger.Use(auth, middleware.RequireRole(jwt.RolePassenger))
			{
				passenger.POST("/create-payment-intent", r.Payments.CreatePaymentIntent)
				passenger.POST("/confirm-payment", r.Payments.ConfirmPayment)
			}

			payments.GET("/status/:intentId", auth, r.Payments.GetPaymentStatus)
			payments.POST("/refund", auth, middleware.RequireRole(jwt.RoleAdmin, jwt.RoleSuperAdmin), r.Payments.RefundPayment)
		}
	}
}
