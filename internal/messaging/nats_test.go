package messaging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewNATSPublisherUnreachable(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	_, err := NewNATSPublisher("nats://127.0.0.1:1", "booking", logger)
	assert.ErrorContains(t, err, "failed to connect to NATS")
}

func TestLogPublisher(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	assert.NoError(t, NewLogPublisher(logger).Publish(SubjectBookingCreated, BookingEvent{Status: "pending"}))
}
