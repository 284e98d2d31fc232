// Package otelmeter provides a callmeter.CallSink backed by the
// OpenTelemetry metric API.
//
// Durations are recorded on a Float64Histogram in seconds and token usage
// on an Int64Counter. Instruments are created lazily per metric name and
// cached.
package otelmeter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ineyio/callmeter"
)

// DefaultMeterName is the instrumentation scope name.
const DefaultMeterName = "github.com/ineyio/callmeter"

// DefaultBuckets are the GenAI client operation duration boundaries, in seconds.
var DefaultBuckets = []float64{0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64, 1.28, 2.56, 5.12, 10.24, 20.48, 40.96, 81.92}

// Sink records measurements on OpenTelemetry instruments.
type Sink struct {
	meter   metric.Meter
	buckets []float64
	logger  *zap.Logger
	now     func() time.Time

	mu         sync.RWMutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
}

var _ callmeter.CallSink = (*Sink)(nil)

type options struct {
	meterName string
	buckets   []float64
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Sink.
type Option func(*options)

// WithMeterName sets the instrumentation scope name.
func WithMeterName(name string) Option {
	return func(o *options) { o.meterName = name }
}

// WithBuckets sets explicit histogram bucket boundaries in seconds.
func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// WithLogger sets the logger used for instrument creation failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Sink on mp. A nil mp uses the global MeterProvider.
func New(mp metric.MeterProvider, opts ...Option) *Sink {
	o := options{meterName: DefaultMeterName}
	for _, opt := range opts {
		opt(&o)
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if len(o.buckets) == 0 {
		o.buckets = DefaultBuckets
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	return &Sink{
		meter:      mp.Meter(o.meterName),
		buckets:    o.buckets,
		logger:     o.logger.With(zap.String("component", "otelmeter")),
		now:        o.now,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
	}
}

// StartTimer opens a duration measurement.
func (s *Sink) StartTimer(name string, labels callmeter.Labels) callmeter.Timer {
	return callmeter.Timer{Name: name, Labels: labels, Started: s.now()}
}

// StopTimer records the elapsed time since t was started.
func (s *Sink) StopTimer(t callmeter.Timer, labels callmeter.Labels) time.Duration {
	d := s.now().Sub(t.Started)

	h, err := s.histogram(t.Name)
	if err != nil {
		s.logger.Error("dropping duration", zap.String("metric", t.Name), zap.Error(err))
		return d
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(attributes(t.Labels.Merge(labels))...))
	return d
}

// IncrementCounter adds amount to the counter name.
func (s *Sink) IncrementCounter(name string, labels callmeter.Labels, amount int64) {
	c, err := s.counter(name)
	if err != nil {
		s.logger.Error("dropping counter increment", zap.String("metric", name), zap.Error(err))
		return
	}
	c.Add(context.Background(), amount, metric.WithAttributes(attributes(labels)...))
}

func (s *Sink) histogram(name string) (metric.Float64Histogram, error) {
	s.mu.RLock()
	h, exists := s.histograms[name]
	s.mu.RUnlock()
	if exists {
		return h, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if h, exists = s.histograms[name]; exists {
		return h, nil
	}
	h, err := s.meter.Float64Histogram(name,
		metric.WithUnit("s"),
		metric.WithDescription("Duration of model calls"),
		metric.WithExplicitBucketBoundaries(s.buckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("otelmeter: create histogram %s: %w", name, err)
	}
	s.histograms[name] = h
	return h, nil
}

func (s *Sink) counter(name string) (metric.Int64Counter, error) {
	s.mu.RLock()
	c, exists := s.counters[name]
	s.mu.RUnlock()
	if exists {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, exists = s.counters[name]; exists {
		return c, nil
	}
	c, err := s.meter.Int64Counter(name,
		metric.WithUnit("{token}"),
		metric.WithDescription("Tokens used by model calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("otelmeter: create counter %s: %w", name, err)
	}
	s.counters[name] = c
	return c, nil
}

func attributes(labels callmeter.Labels) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		attrs = append(attrs, attribute.String(l.Key, l.Value))
	}
	return attrs
}
