package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys shared by the HTTP and sync instruments. Cardinality stays
// bounded: tenant ids are the only per-customer label.
var (
	AttrTenantID       = attribute.Key("tenant_id")
	AttrModule         = attribute.Key("module")
	AttrRunMode        = attribute.Key("run_mode")
	AttrRunStatus      = attribute.Key("run_status")
	AttrRecordOutcome  = attribute.Key("record_outcome")
	AttrResult         = attribute.Key("result")
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
)

// Histogram bucket boundaries
var (
	// HTTPDurationBuckets covers inbound API requests, in seconds
	HTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	// ProviderDurationBuckets covers provider calls, which include retries and backoff
	ProviderDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	// PageSizeBuckets covers the number of records in one provider page
	PageSizeBuckets = []float64{0, 1, 10, 25, 50, 100, 250, 500, 1000}
)

// Counter is a monotonically increasing int64 instrument.
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a counter on meter.
func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, instrumentError("counter", name, err)
	}
	return &Counter{counter: c}, nil
}

// Add increments the counter by value.
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by one.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// HistogramOpts describes a float64 histogram.
type HistogramOpts struct {
	Name        string
	Description string
	Unit        string
	// Boundaries overrides the SDK default buckets when set
	Boundaries []float64
}

// Histogram is a float64 distribution instrument.
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a histogram on meter.
func NewHistogram(meter metric.Meter, opts HistogramOpts) (*Histogram, error) {
	options := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Boundaries) > 0 {
		options = append(options, metric.WithExplicitBucketBoundaries(opts.Boundaries...))
	}
	h, err := meter.Float64Histogram(opts.Name, options...)
	if err != nil {
		return nil, instrumentError("histogram", opts.Name, err)
	}
	return &Histogram{histogram: h}, nil
}

// Record records one observation.
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// RecordDuration records d in seconds.
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), attrs...)
}

// Gauge is an int64 instrument holding the last recorded value.
type Gauge struct {
	gauge metric.Int64Gauge
}

// NewGauge creates a gauge on meter.
func NewGauge(meter metric.Meter, name, description, unit string) (*Gauge, error) {
	g, err := meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, instrumentError("gauge", name, err)
	}
	return &Gauge{gauge: g}, nil
}

// Record sets the current value.
func (g *Gauge) Record(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	g.gauge.Record(ctx, value, metric.WithAttributes(attrs...))
}

func instrumentError(kind, name string, err error) error {
	return fmt.Errorf("create %s %s: %w", kind, name, err)
}
