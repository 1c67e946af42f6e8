package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Counter is a named int64 counter that tolerates registration failures.
type Counter struct {
	counter metric.Int64Counter
	enabled bool
}

// NewCounter registers an int64 counter on the global meter provider.
// When registration fails the counter becomes a no-op and the failure is logged.
func NewCounter(name, description string, logger *zap.Logger) Counter {
	meter := otel.GetMeterProvider().Meter(instrumentationName)
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		if logger != nil {
			logger.Warn("metrics: unable to register counter", zap.String("name", name), zap.Error(err))
		}
		return Counter{}
	}
	return Counter{counter: counter, enabled: true}
}

// Add increments the counter by one with the supplied string attributes given as key/value pairs.
func (c Counter) Add(ctx context.Context, kv ...string) {
	if !c.enabled {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
