// Package telemetry owns the relay's OpenTelemetry metrics.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "pulse-relay"

// Shutdown flushes and stops the meter provider.
type Shutdown func(context.Context) error

// Init installs an OTLP/gRPC meter provider when endpoint is set. With no
// endpoint the global no-op provider stays in place.
func Init(ctx context.Context, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpointURL(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Metrics groups the relay instruments. A nil *Metrics records nothing.
type Metrics struct {
	connections metric.Int64UpDownCounter
	events      metric.Int64Counter
	pushes      metric.Int64Counter
	evictions   metric.Int64Counter
	storeErrors metric.Int64Counter
}

// New creates the instruments on the global meter provider
func New() (*Metrics, error) {
	return newMetrics(otel.Meter(serviceName))
}

// Noop returns instruments that discard every measurement
func Noop() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(serviceName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.connections, err = meter.Int64UpDownCounter("relay_connections",
		metric.WithDescription("Live websocket connections")); err != nil {
		return nil, err
	}
	if m.events, err = meter.Int64Counter("relay_inbound_events_total",
		metric.WithDescription("Inbound events by type")); err != nil {
		return nil, err
	}
	if m.pushes, err = meter.Int64Counter("relay_pushes_total",
		metric.WithDescription("Outbound frames enqueued to connections")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("relay_liveness_evictions_total",
		metric.WithDescription("Connections closed by the liveness sweep")); err != nil {
		return nil, err
	}
	if m.storeErrors, err = meter.Int64Counter("relay_store_errors_total",
		metric.WithDescription("Storage gateway failures by operation")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Add(context.Background(), 1)
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Add(context.Background(), -1)
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.events.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) Pushed(eventType string, delivered int) {
	if m == nil || delivered == 0 {
		return
	}
	m.pushes.Add(context.Background(), int64(delivered), metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.evictions.Add(context.Background(), 1)
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}
