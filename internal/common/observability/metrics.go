package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the otel meter and tracer used around remote calls.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	tracer        trace.Tracer
	callCounter   otelmetric.Int64Counter
	callDuration  otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	tracer := otel.Tracer(serviceName)

	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return NewNoop(serviceName)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	o := newWithMeter(provider.Meter(serviceName), tracer)
	o.meterProvider = provider
	return o
}

// NewNoop records nothing. Used by tests and when the exporter cannot start.
func NewNoop(serviceName string) *Observability {
	return newWithMeter(noop.NewMeterProvider().Meter(serviceName), otel.Tracer(serviceName))
}

func newWithMeter(meter otelmetric.Meter, tracer trace.Tracer) *Observability {
	callCounter, _ := meter.Int64Counter(
		"gateway.calls",
		otelmetric.WithDescription("Number of remote gateway calls"),
	)

	callDuration, _ := meter.Float64Histogram(
		"gateway.duration",
		otelmetric.WithDescription("Remote gateway call duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meter:        meter,
		tracer:       tracer,
		callCounter:  callCounter,
		callDuration: callDuration,
	}
}

// StartSpan opens a span for a gateway operation.
func (o *Observability) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// RecordCall counts one remote call and its duration.
func (o *Observability) RecordCall(ctx context.Context, operation string, duration time.Duration, status string) {
	attrs := otelmetric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	if o.callCounter != nil {
		o.callCounter.Add(ctx, 1, attrs)
	}
	if o.callDuration != nil {
		o.callDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
