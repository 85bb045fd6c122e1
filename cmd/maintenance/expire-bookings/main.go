package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/config"
	"github.com/smarttransit/booking-backend/internal/database"
	"github.com/smarttransit/booking-backend/internal/messaging"
	"github.com/smarttransit/booking-backend/internal/services"
	"github.com/smarttransit/booking-backend/pkg/payment"
)

// Runs one pass of the pending booking reaper, for operators who need seats
// back before the next scheduled run.
func main() {
	var dbURLFlag string
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	ttl := flag.Duration("ttl", 15*time.Minute, "release pending bookings older than this")
	batch := flag.Int("batch", 100, "maximum bookings handled")
	flag.Parse()

	// Optional .env so secrets stay off the command line
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Minimal database config without loading full app config
	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	store := database.NewPostgresStore(db, logger)
	defer store.Close()

	provider := payment.NewRetryingProvider(payment.NewStripeProvider(payment.StripeConfig{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}, logger), payment.RetryConfig{}, logger)

	publisher := messaging.NewLogPublisher(logger)
	issuer := services.NewTicketIssuer(store, services.NewLocalLocker(), publisher, nil, logger)
	bookings := services.NewBookingService(store, publisher, nil, services.DefaultBookingServiceConfig(), logger)

	reaperConfig := services.DefaultBookingExpirationConfig()
	reaperConfig.PendingTTL = *ttl
	reaperConfig.BatchSize = *batch
	reaper := services.NewBookingExpirationService(store, provider, issuer, bookings, reaperConfig, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := reaper.RunOnce(ctx)
	if err != nil {
		log.Fatalf("expiration run failed: %v", err)
	}

	fmt.Println("Expiration run complete:")
	fmt.Printf("  scanned:   %d\n", stats.Scanned)
	fmt.Printf("  expired:   %d\n", stats.Expired)
	fmt.Printf("  confirmed: %d\n", stats.Confirmed)
	fmt.Printf("  skipped:   %d\n", stats.Skipped)
	fmt.Printf("  failed:    %d\n", stats.Failed)
}
