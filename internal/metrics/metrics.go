// Package metrics exposes booking pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	bookingsCreated   prometheus.Counter
	bookingsRejected  *prometheus.CounterVec
	bookingsCancelled *prometheus.CounterVec
	ticketsIssued     prometheus.Counter
	issuance          *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	providerRetries   *prometheus.CounterVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		bookingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "booking_bookings_created_total",
			Help: "Bookings persisted in pending state.",
		}),
		bookingsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_bookings_rejected_total",
			Help: "Booking requests rejected, by error kind.",
		}, []string{"kind"}),
		bookingsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_bookings_cancelled_total",
			Help: "Bookings cancelled with seats returned, by trigger.",
		}, []string{"trigger"}),
		ticketsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "booking_tickets_issued_total",
			Help: "Tickets minted.",
		}),
		issuance: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_ticket_issuance_total",
			Help: "Ticket issuance invocations, by result.",
		}, []string{"result"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_webhook_events_total",
			Help: "Payment webhook events, by type and outcome.",
		}, []string{"type", "outcome"}),
		providerRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_payment_provider_retries_total",
			Help: "Payment provider calls retried after a rate limit response.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) BookingCreated() {
	if m != nil {
		m.bookingsCreated.Inc()
	}
}

func (m *Metrics) BookingRejected(kind string) {
	if m != nil {
		m.bookingsRejected.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) BookingCancelled(trigger string) {
	if m != nil {
		m.bookingsCancelled.WithLabelValues(trigger).Inc()
	}
}

// TicketsIssued records one issuance call; count is zero when tickets already existed
func (m *Metrics) TicketsIssued(count int, alreadyIssued bool) {
	if m == nil {
		return
	}
	if alreadyIssued {
		m.issuance.WithLabelValues("already_issued").Inc()
		return
	}
	m.issuance.WithLabelValues("issued").Inc()
	m.ticketsIssued.Add(float64(count))
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m != nil {
		m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
	}
}

func (m *Metrics) ProviderRetry(operation string) {
	if m != nil {
		m.providerRetries.WithLabelValues(operation).Inc()
	}
}
