// Package prommeter provides a callmeter.CallSink backed by Prometheus.
//
// Prometheus needs a fixed label set per series, so each metric uses the
// schema published by callmeter (OperationDurationLabels, TokenUsageLabels).
// Labels outside the schema are dropped and missing ones are exported as
// empty strings. Names are sanitized: "gen_ai.client.token.usage" becomes
// "gen_ai_client_token_usage_total".
package prommeter

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ineyio/callmeter"
)

// DefaultBuckets are tuned for LLM call latencies, in seconds.
var DefaultBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Sink records measurements on Prometheus collectors.
type Sink struct {
	logger *zap.Logger
	now    func() time.Time

	durations    *prometheus.HistogramVec
	durationKeys []string
	tokens       *prometheus.CounterVec
	tokenKeys    []string
}

var _ callmeter.CallSink = (*Sink)(nil)

type options struct {
	namespace string
	buckets   []float64
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Sink.
type Option func(*options)

// WithNamespace prefixes every metric name.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithBuckets sets the duration histogram buckets in seconds.
func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Sink and registers its collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer. Collectors already registered under the
// same names are reused.
func New(reg prometheus.Registerer, opts ...Option) (*Sink, error) {
	o := options{buckets: DefaultBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	s := &Sink{
		logger:       o.logger.With(zap.String("component", "prommeter")),
		now:          o.now,
		durationKeys: callmeter.OperationDurationLabels,
		tokenKeys:    callmeter.TokenUsageLabels,
	}

	durations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      SanitizeName(callmeter.MetricOperationDuration) + "_seconds",
			Help:      "Duration of model calls in seconds",
			Buckets:   o.buckets,
		},
		sanitizeAll(s.durationKeys),
	)
	tokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      SanitizeName(callmeter.MetricTokenUsage) + "_total",
			Help:      "Tokens used by model calls",
		},
		sanitizeAll(s.tokenKeys),
	)

	var err error
	if s.durations, err = register(reg, durations); err != nil {
		return nil, err
	}
	if s.tokens, err = register(reg, tokens); err != nil {
		return nil, err
	}

	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// StartTimer opens a duration measurement.
func (s *Sink) StartTimer(name string, labels callmeter.Labels) callmeter.Timer {
	return callmeter.Timer{Name: name, Labels: labels, Started: s.now()}
}

// StopTimer observes the elapsed time since t was started.
func (s *Sink) StopTimer(t callmeter.Timer, labels callmeter.Labels) time.Duration {
	d := s.now().Sub(t.Started)
	if t.Name != callmeter.MetricOperationDuration {
		s.logger.Debug("dropping duration for unknown metric", zap.String("metric", t.Name))
		return d
	}
	s.durations.WithLabelValues(values(s.durationKeys, t.Labels.Merge(labels))...).Observe(d.Seconds())
	return d
}

// IncrementCounter adds amount to the token counter.
func (s *Sink) IncrementCounter(name string, labels callmeter.Labels, amount int64) {
	if name != callmeter.MetricTokenUsage {
		s.logger.Debug("dropping increment for unknown metric", zap.String("metric", name))
		return
	}
	if amount <= 0 {
		return
	}
	s.tokens.WithLabelValues(values(s.tokenKeys, labels)...).Add(float64(amount))
}

// SanitizeName maps a dotted metric or label name to Prometheus form.
func SanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func sanitizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = SanitizeName(n)
	}
	return out
}

func values(keys []string, labels callmeter.Labels) []string {
	m := labels.Map()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
