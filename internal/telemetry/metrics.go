// Package telemetry records notification and connection lifecycle metrics and events.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"social-notify/backend/internal/registry"
)

const namespace = "notify"

// Termination causes used as the cause label.
const (
	CauseDeregistered = "deregistered"
	CauseDisconnected = "disconnected"
	CauseTransport    = "transport"
)

// Metrics exports Prometheus collectors and mirrors the counters as OTel instruments.
// It implements registry.Observer and forwards lifecycle events to Events.
type Metrics struct {
	reg    *prometheus.Registry
	events *Events

	notificationsCreated prometheus.Counter
	notificationsFailed  prometheus.Counter
	notifyDuration       prometheus.Summary
	connRegistered       prometheus.Counter
	connTerminated       *prometheus.CounterVec
	connRejected         prometheus.Counter
	busOverflows         prometheus.Counter

	otelCreated    otelmetric.Int64Counter
	otelDuration   otelmetric.Float64Histogram
	otelActive     otelmetric.Int64UpDownCounter
	otelTerminated otelmetric.Int64Counter
	otelOverflows  otelmetric.Int64Counter
}

// NewMetrics registers collectors on a fresh Prometheus registry and creates OTel instruments on meter.
// events may be nil.
func NewMetrics(meter otelmetric.Meter, events *Events) (*Metrics, error) {
	m := &Metrics{
		reg:    prometheus.NewRegistry(),
		events: events,
		notificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "notifications persisted and published",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failed_total",
			Help:      "notifications rejected because the store was unavailable",
		}),
		notifyDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "notify_duration_seconds",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.95: 0.005,
				0.99: 0.001,
			},
		}),
		connRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "registered_total",
			Help:      "connections registered",
		}),
		connTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "terminated_total",
			Help:      "connections terminated by cause",
		}, []string{"cause"}),
		connRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "rejected_total",
			Help:      "connections refused by the admission check",
		}),
		busOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "overflow_total",
			Help:      "messages dropped from full subscriber queues",
		}),
	}
	m.reg.MustRegister(
		m.notificationsCreated,
		m.notificationsFailed,
		m.notifyDuration,
		m.connRegistered,
		m.connTerminated,
		m.connRejected,
		m.busOverflows,
	)

	var err error
	if m.otelCreated, err = meter.Int64Counter("notify.notifications.created"); err != nil {
		return nil, err
	}
	if m.otelDuration, err = meter.Float64Histogram("notify.notifications.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.otelActive, err = meter.Int64UpDownCounter("notify.connections.active"); err != nil {
		return nil, err
	}
	if m.otelTerminated, err = meter.Int64Counter("notify.connections.terminated"); err != nil {
		return nil, err
	}
	if m.otelOverflows, err = meter.Int64Counter("notify.bus.overflows"); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterGauges adds collectors read from live components. published may be nil.
func (m *Metrics) RegisterGauges(activeConnections func() int, published func() uint64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connections",
		Name:      "active",
		Help:      "currently registered connections",
	}, func() float64 {
		return float64(activeConnections())
	}))
	if published != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "messages enqueued to subscribers",
		}, func() float64 {
			return float64(published())
		}))
	}
}

// Registry returns the Prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// NotificationCreated records a persisted and published notification.
func (m *Metrics) NotificationCreated(ctx context.Context, identity string, id int64, took time.Duration) {
	m.notificationsCreated.Inc()
	m.notifyDuration.Observe(took.Seconds())
	m.otelCreated.Add(ctx, 1)
	m.otelDuration.Record(ctx, took.Seconds())
	m.events.EmitAsync(&Event{Type: EventNotificationCreated, Identity: identity, NotificationID: id})
}

// NotificationFailed records a notification the store refused.
func (m *Metrics) NotificationFailed() { m.notificationsFailed.Inc() }

// BusOverflow is installed as the event bus overflow hook.
func (m *Metrics) BusOverflow(string) {
	m.busOverflows.Inc()
	m.otelOverflows.Add(context.Background(), 1)
}

// ConnectionRegistered implements registry.Observer.
func (m *Metrics) ConnectionRegistered(reg *registry.Registration) {
	m.connRegistered.Inc()
	m.otelActive.Add(context.Background(), 1)
	m.events.EmitAsync(&Event{Type: EventConnectionRegistered, Identity: reg.Identity, RegistrationID: reg.ID})
}

// ConnectionTerminated implements registry.Observer.
func (m *Metrics) ConnectionTerminated(reg *registry.Registration, cause error) {
	label := TerminationCause(cause)
	m.connTerminated.WithLabelValues(label).Inc()
	m.otelActive.Add(context.Background(), -1)
	m.otelTerminated.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("cause", label)))
	ev := &Event{Type: EventConnectionTerminated, Identity: reg.Identity, RegistrationID: reg.ID}
	if label == CauseTransport {
		ev.Reason = cause.Error()
	}
	m.events.EmitAsync(ev)
}

// ConnectionRejected implements registry.Observer.
func (m *Metrics) ConnectionRejected(identity string, reason error) {
	m.connRejected.Inc()
	ev := &Event{Type: EventConnectionRejected, Identity: identity}
	if reason != nil {
		ev.Reason = reason.Error()
	}
	m.events.EmitAsync(ev)
}

// TerminationCause maps a registration's termination error to a cause label.
func TerminationCause(cause error) string {
	switch {
	case cause == nil:
		return CauseDeregistered
	case errors.Is(cause, registry.ErrDisconnected):
		return CauseDisconnected
	default:
		return CauseTransport
	}
}

var _ registry.Observer = (*Metrics)(nil)
