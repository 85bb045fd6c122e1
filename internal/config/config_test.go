package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Environment: "development"},
		Database: DatabaseConfig{Driver: "postgres", URL: "postgres://localhost/booking"},
		JWT:      JWTConfig{Secret: "dev-secret"},
		Payment:  PaymentConfig{MaxAttempts: 3},
		Booking:  BookingConfig{MaxTicketsPerBooking: 10},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "DATABASE_URL is required"},
		{"memory driver without url", func(c *Config) { c.Database.Driver = "memory"; c.Database.URL = "" }, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid DATABASE_DRIVER"},
		{"missing jwt secret", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET is required"},
		{"production needs stripe key", func(c *Config) {
			c.Server.Environment = "production"
			c.JWT.Secret = "0123456789abcdef0123456789abcdef"
		}, "STRIPE_SECRET_KEY is required"},
		{"production forbids simulated payment", func(c *Config) {
			c.Server.Environment = "production"
			c.JWT.Secret = "0123456789abcdef0123456789abcdef"
			c.Payment.SecretKey = "sk_live_x"
			c.Payment.WebhookSecret = "whsec_x"
			c.Payment.AllowSimulated = true
		}, "PAYMENT_ALLOW_SIMULATED"},
		{"zero attempts", func(c *Config) { c.Payment.MaxAttempts = 0 }, "PAYMENT_MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_DURATION", "45s")
	t.Setenv("TEST_BAD_DURATION", "soon")
	t.Setenv("TEST_SLICE", " a, b ,,c ")

	assert.Equal(t, 45*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_BAD_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsSlice("TEST_SLICE", nil))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_KEY", "fallback"))
}
