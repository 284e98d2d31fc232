package meter_test

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/ineyio/callmeter"
	"github.com/ineyio/callmeter/meter"
)

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// Now returns the current time and then advances it by step.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
}

var (
	startLabels = callmeter.Labels{
		{Key: callmeter.LabelOperationName, Value: "chat"},
		{Key: callmeter.LabelSystem, Value: "openai"},
		{Key: callmeter.LabelRequestModel, Value: "gpt-4o"},
	}
	successLabels = callmeter.Labels{
		{Key: callmeter.LabelResponseModel, Value: "gpt-4o"},
		{Key: callmeter.LabelOutcome, Value: "SUCCESS"},
	}
	errorLabels = callmeter.Labels{
		{Key: callmeter.LabelOutcome, Value: "ERROR"},
		{Key: callmeter.LabelErrorType, Value: "timeout"},
	}
)

func TestMemorySink(t *testing.T) {
	s := meter.NewMemorySink(meter.WithMemoryClock(newStepClock(100 * time.Millisecond).Now))

	timer := s.StartTimer(callmeter.MetricOperationDuration, startLabels)
	assert.Equal(t, 1, s.OpenTimers())

	d := s.StopTimer(timer, successLabels)
	assert.Equal(t, 100*time.Millisecond, d)
	assert.Equal(t, 0, s.OpenTimers())

	// A second stop is not recorded again.
	s.StopTimer(timer, errorLabels)

	timers := s.Timers()
	require.Len(t, timers, 1)
	assert.Equal(t, callmeter.MetricOperationDuration, timers[0].Name)
	assert.Equal(t, 100*time.Millisecond, timers[0].Duration)
	assert.Equal(t, "SUCCESS", timers[0].Labels.Map()[callmeter.LabelOutcome])
	assert.Equal(t, "gpt-4o", timers[0].Labels.Map()[callmeter.LabelRequestModel])

	s.IncrementCounter(callmeter.MetricTokenUsage, startLabels.With(callmeter.LabelTokenType, "input"), 10)
	s.IncrementCounter(callmeter.MetricTokenUsage, startLabels.With(callmeter.LabelTokenType, "input"), 5)
	s.IncrementCounter(callmeter.MetricTokenUsage, startLabels.With(callmeter.LabelTokenType, "output"), 3)

	assert.Len(t, s.Counters(), 3)
	assert.Equal(t, int64(18), s.CounterTotal(callmeter.MetricTokenUsage))
	assert.Equal(t, int64(15), s.CounterTotal(callmeter.MetricTokenUsage,
		callmeter.Label{Key: callmeter.LabelTokenType, Value: "input"}))
	assert.Equal(t, int64(0), s.CounterTotal("other"))
}

func TestMemorySink_ForeignTimer(t *testing.T) {
	s := meter.NewMemorySink()
	s.StopTimer(callmeter.Timer{Name: "x", Started: time.Now()}, nil)
	assert.Empty(t, s.Timers())
}

func TestLogSink(t *testing.T) {
	core, logs := zapobserver.New(zapcore.DebugLevel)
	s := meter.NewLogSink(zap.New(core))

	ok := s.StartTimer(callmeter.MetricOperationDuration, startLabels)
	s.StopTimer(ok, successLabels)
	failed := s.StartTimer(callmeter.MetricOperationDuration, startLabels)
	s.StopTimer(failed, errorLabels)
	s.IncrementCounter(callmeter.MetricTokenUsage, startLabels.With(callmeter.LabelTokenType, "input"), 42)

	starts := logs.FilterMessage("timer_start").All()
	require.Len(t, starts, 2)
	assert.Equal(t, zapcore.DebugLevel, starts[0].Level)

	stops := logs.FilterMessage("timer_stop").All()
	require.Len(t, stops, 2)
	assert.Equal(t, zapcore.InfoLevel, stops[0].Level)
	assert.Equal(t, "SUCCESS", stops[0].ContextMap()[callmeter.LabelOutcome])
	assert.Equal(t, zapcore.WarnLevel, stops[1].Level)
	assert.Equal(t, "timeout", stops[1].ContextMap()[callmeter.LabelErrorType])
	assert.Contains(t, stops[1].ContextMap(), "duration_ms")

	counters := logs.FilterMessage("counter").All()
	require.Len(t, counters, 1)
	assert.Equal(t, int64(42), counters[0].ContextMap()["amount"])
	assert.Equal(t, "input", counters[0].ContextMap()[callmeter.LabelTokenType])
}

func TestMultiSink(t *testing.T) {
	a, b := meter.NewMemorySink(), meter.NewMemorySink()
	m := meter.Multi(a, nil, b)
	assert.Equal(t, 2, m.Len())

	timer := m.StartTimer(callmeter.MetricOperationDuration, startLabels)
	m.StopTimer(timer, successLabels)
	m.IncrementCounter(callmeter.MetricTokenUsage, startLabels, 7)

	for _, s := range []*meter.MemorySink{a, b} {
		assert.Len(t, s.Timers(), 1)
		assert.Equal(t, 0, s.OpenTimers())
		assert.Equal(t, int64(7), s.CounterTotal(callmeter.MetricTokenUsage))
	}

	// Timers not started by this sink are ignored by the inner sinks.
	m.StopTimer(callmeter.Timer{Name: "x", Started: time.Now()}, nil)
	assert.Len(t, a.Timers(), 1)
}

func TestMultiSink_Empty(t *testing.T) {
	m := meter.Multi()
	timer := m.StartTimer(callmeter.MetricOperationDuration, startLabels)
	assert.GreaterOrEqual(t, m.StopTimer(timer, successLabels), time.Duration(0))
	m.IncrementCounter(callmeter.MetricTokenUsage, startLabels, 1)
}

func TestNoopSink(t *testing.T) {
	var s callmeter.CallSink = meter.NoopSink{}
	timer := s.StartTimer(callmeter.MetricOperationDuration, startLabels)
	assert.Equal(t, callmeter.MetricOperationDuration, timer.Name)
	assert.GreaterOrEqual(t, s.StopTimer(timer, nil), time.Duration(0))
	s.IncrementCounter(callmeter.MetricTokenUsage, nil, 1)
}

func TestBuild(t *testing.T) {
	t.Run("nothing enabled", func(t *testing.T) {
		sink, err := meter.Build(callmeter.Config{SystemName: "openai"}, meter.Deps{})
		require.NoError(t, err)
		assert.IsType(t, meter.NoopSink{}, sink)
	})

	t.Run("log only", func(t *testing.T) {
		sink, err := meter.Build(callmeter.Config{
			SystemName: "openai",
			Log:        callmeter.LogConfig{Enabled: true},
		}, meter.Deps{Logger: zaptest.NewLogger(t)})
		require.NoError(t, err)
		assert.IsType(t, &meter.LogSink{}, sink)
	})

	t.Run("all sinks", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		reader := sdkmetric.NewManualReader()
		deps := meter.Deps{
			Registerer:    reg,
			MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
			Logger:        zaptest.NewLogger(t),
		}
		cfg := callmeter.Config{
			SystemName: "openai",
			Log:        callmeter.LogConfig{Enabled: true},
			Prometheus: callmeter.PrometheusConfig{Enabled: true, Namespace: "llm", Buckets: []float64{1, 2}},
			OTel:       callmeter.OTelConfig{Enabled: true, MeterName: "test", Buckets: []float64{1, 2}},
		}

		sink, err := meter.Build(cfg, deps)
		require.NoError(t, err)
		multi, ok := sink.(*meter.MultiSink)
		require.True(t, ok)
		assert.Equal(t, 3, multi.Len())

		// Building again on the same registry reuses the collectors.
		_, err = meter.Build(cfg, deps)
		require.NoError(t, err)

		timer := sink.StartTimer(callmeter.MetricOperationDuration, startLabels)
		sink.StopTimer(timer, successLabels)

		families, err := reg.Gather()
		require.NoError(t, err)
		require.Len(t, families, 1)
		assert.Equal(t, "llm_gen_ai_client_operation_duration_seconds", families[0].GetName())
	})
}
