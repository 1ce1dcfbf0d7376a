package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gateway's instruments
type Metrics struct {
	events       metric.Int64Counter
	broadcasts   metric.Int64Counter
	deliveries   metric.Int64Counter
	backpressure metric.Int64Counter
	storeErrors  metric.Int64Counter
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.events, err = meter.Int64Counter("gateway_events_total",
		metric.WithDescription("Client frames handled, by type")); err != nil {
		return nil, fmt.Errorf("events counter: %w", err)
	}
	if m.broadcasts, err = meter.Int64Counter("gateway_broadcast_total",
		metric.WithDescription("Events broadcast to a conversation group")); err != nil {
		return nil, fmt.Errorf("broadcast counter: %w", err)
	}
	if m.deliveries, err = meter.Int64Counter("gateway_deliveries_total",
		metric.WithDescription("Frames queued to individual sessions")); err != nil {
		return nil, fmt.Errorf("deliveries counter: %w", err)
	}
	if m.backpressure, err = meter.Int64Counter("gateway_backpressure_disconnects_total",
		metric.WithDescription("Sessions closed because their send queue was full")); err != nil {
		return nil, fmt.Errorf("backpressure counter: %w", err)
	}
	if m.storeErrors, err = meter.Int64Counter("gateway_store_errors_total",
		metric.WithDescription("Events dropped because persistence failed")); err != nil {
		return nil, fmt.Errorf("store error counter: %w", err)
	}

	return m, nil
}

// Event counts one handled client frame
func (m *Metrics) Event(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// Broadcast counts one group broadcast that reached delivered sessions
func (m *Metrics) Broadcast(ctx context.Context, delivered int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(ctx, 1)
	m.deliveries.Add(ctx, int64(delivered))
}

// Backpressure counts one forced disconnect
func (m *Metrics) Backpressure(ctx context.Context) {
	if m == nil {
		return
	}
	m.backpressure.Add(ctx, 1)
}

// StoreError counts one event dropped on a persistence failure
func (m *Metrics) StoreError(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// ObserveGauges registers observable gauges reporting live sessions and
// groups through stats
func ObserveGauges(meter metric.Meter, stats func() (sessions, groups int)) error {
	sessions, err := meter.Int64ObservableGauge("gateway_sessions",
		metric.WithDescription("Connected realtime sessions"))
	if err != nil {
		return fmt.Errorf("sessions gauge: %w", err)
	}
	groups, err := meter.Int64ObservableGauge("gateway_groups",
		metric.WithDescription("Conversations with at least one session"))
	if err != nil {
		return fmt.Errorf("groups gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s, g := stats()
		o.ObserveInt64(sessions, int64(s))
		o.ObserveInt64(groups, int64(g))
		return nil
	}, sessions, groups)
	if err != nil {
		return fmt.Errorf("register gauges: %w", err)
	}
	return nil
}
