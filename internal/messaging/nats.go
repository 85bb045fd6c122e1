package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Booking event subjects, relative to the configured prefix
const (
	SubjectBookingCreated   = "created"
	SubjectBookingConfirmed = "confirmed"
	SubjectBookingCancelled = "cancelled"
)

// Publisher sends domain events to downstream consumers (notifications, analytics)
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// NATSPublisher publishes JSON events on core NATS
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *logrus.Logger
}

// NewNATSPublisher connects to url
func NewNATSPublisher(url, prefix string, logger *logrus.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("booking-backend"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.WithField("url", url).Info("Connected to NATS")
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Publish marshals data as JSON and publishes it on prefix.subject
func (p *NATSPublisher) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	fullSubject := p.prefix + "." + subject
	if err := p.conn.Publish(fullSubject, payload); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", fullSubject, err)
	}

	p.logger.WithField("subject", fullSubject).Debug("Published message")
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// LogPublisher only logs events. Used when NATS is not configured.
type LogPublisher struct {
	logger *logrus.Logger
}

// NewLogPublisher creates a publisher that writes events to the log
func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the subject at debug level
func (p *LogPublisher) Publish(subject string, data interface{}) error {
	p.logger.WithField("subject", subject).Debug("Event not published, NATS disabled")
	return nil
}
