package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/cache"
	"github.com/smarttransit/booking-backend/internal/config"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/handlers"
	"github.com/smarttransit/booking-backend/internal/messaging"
	"github.com/smarttransit/booking-backend/internal/metrics"
	"github.com/smarttransit/booking-backend/internal/middleware"
	"github.com/smarttransit/booking-backend/internal/models"
	"github.com/smarttransit/booking-backend/internal/services"
	"github.com/smarttransit/booking-backend/pkg/jwt"
	"github.com/smarttransit/booking-backend/pkg/payment"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Log.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}))
		logger.WithField("file", cfg.Log.File).Info("File logging enabled")
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize store
	store, closeStore := openStore(cfg, logger)
	defer closeStore()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Payment provider
	stripeProvider := payment.NewStripeProvider(payment.StripeConfig{
		SecretKey:     cfg.Payment.SecretKey,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Timeout:       cfg.Payment.RequestTimeout,
	}, logger)
	provider := payment.NewRetryingProvider(stripeProvider, payment.RetryConfig{
		MaxAttempts: cfg.Payment.MaxAttempts,
		BaseBackoff: cfg.Payment.BaseBackoff,
	}, logger)
	provider.OnRetry(m.ProviderRetry)
	if cfg.Payment.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payment intents are unavailable")
	}

	// Per-booking lock
	var locker services.Locker = services.NewLocalLocker()
	if cfg.Redis.URL != "" {
		redisClient, err := cache.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		locker = cache.NewRedisLocker(redisClient, cfg.Redis.LockTTL, logger)
		logger.Info("Using redis booking locks")
	}

	// Booking events
	var publisher messaging.Publisher = messaging.NewLogPublisher(logger)
	if cfg.NATS.URL != "" {
		natsPublisher, err := messaging.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("Publishing booking events to NATS")
	}

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	issuer := services.NewTicketIssuer(store, locker, publisher, m, logger)
	bookingService := services.NewBookingService(store, publisher, m, services.BookingServiceConfig{
		MaxTicketsPerBooking: cfg.Booking.MaxTicketsPerBooking,
	}, logger)
	paymentService := services.NewPaymentService(store, provider, issuer, services.PaymentServiceConfig{
		DefaultCurrency: cfg.Payment.Currency,
	}, logger)
	webhookService := services.NewWebhookService(store, provider, issuer, bookingService, m, logger)
	documentService := services.NewTicketDocumentService(bookingService, logger)

	reaperConfig := services.DefaultBookingExpirationConfig()
	reaperConfig.Schedule = cfg.Booking.ReaperSchedule
	reaperConfig.PendingTTL = cfg.Booking.PendingTTL
	reaperConfig.BatchSize = cfg.Booking.ReaperBatchSize
	reaper := services.NewBookingExpirationService(store, provider, issuer, bookingService, reaperConfig, logger)
	if err := reaper.Start(); err != nil {
		logger.Fatalf("Failed to start booking reaper: %v", err)
	}
	defer reaper.Stop()

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", handlers.HealthCheck(store, version))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	handlers.RegisterRoutes(router, handlers.Routes{
		JWT:      jwtService,
		Bookings: handlers.NewBookingHandler(bookingService, paymentService, documentService, cfg.Payment.AllowSimulated, logger),
		Payments: handlers.NewPaymentHandler(paymentService, webhookService, logger),
		Logger:   logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// openStore connects the configured store and returns its close function
func openStore(cfg *config.Config, logger *logrus.Logger) (database.Store, func()) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		store := database.NewMemoryStore()
		seedDemoData(store, logger)
		return store, func() {}
	}

	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Info("Database connection established")

	store := database.NewPostgresStore(db, logger)
	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := store.RunMigrations(ctx); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		logger.Info("Database migrations applied")
	}

	return store, func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
}

// seedDemoData gives a memory store one bookable trip and one passenger
func seedDemoData(store *database.MemoryStore, logger *logrus.Logger) {
	trip := models.Trip{
		BaseEntity:     models.NewBaseEntity(),
		AvailableSeats: 40,
		Price:          1500,
		DepartureTime:  time.Now().Add(24 * time.Hour).Truncate(time.Hour),
	}

	stationIDs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		stationID := uuid.New()
		departure := trip.DepartureTime.Add(time.Duration(i) * 90 * time.Minute)
		arrival := departure.Add(-5 * time.Minute)
		trip.Stations = append(trip.Stations, models.TripStation{
			TripID:         trip.ID,
			StationID:      stationID,
			SequenceNumber: i + 1,
			ArrivalTime:    &arrival,
			DepartureTime:  &departure,
		})
		stationIDs = append(stationIDs, stationID.String())
	}
	store.SeedTrip(trip)

	passengerID := uuid.New()
	store.SeedPassenger(passengerID)

	logger.WithFields(logrus.Fields{
		"trip_id":      trip.ID,
		"station_ids":  stationIDs,
		"passenger_id": passengerID,
	}).Info("Seeded demo trip")
}
