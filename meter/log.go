package meter

import (
	"time"

	"go.uber.org/zap"

	"github.com/ineyio/callmeter"
)

// LogSink logs measurements using zap.
type LogSink struct {
	Logger *zap.Logger
	now    func() time.Time
}

var _ callmeter.CallSink = (*LogSink)(nil)

// NewLogSink creates a LogSink with the given logger.
// If logger is nil, zap.L() is used.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.L()
	}
	return &LogSink{Logger: logger, now: time.Now}
}

func (s *LogSink) StartTimer(name string, labels callmeter.Labels) callmeter.Timer {
	t := callmeter.Timer{Name: name, Labels: labels, Started: s.now()}
	s.Logger.Debug("timer_start", append([]zap.Field{zap.String("metric", name)}, fields(labels)...)...)
	return t
}

func (s *LogSink) StopTimer(t callmeter.Timer, labels callmeter.Labels) time.Duration {
	d := s.now().Sub(t.Started)
	all := t.Labels.Merge(labels)

	fs := append([]zap.Field{
		zap.String("metric", t.Name),
		zap.Int64("duration_ms", d.Milliseconds()),
	}, fields(all)...)

	if outcome, _ := all.Get(callmeter.LabelOutcome); outcome == string(callmeter.OutcomeError) {
		s.Logger.Warn("timer_stop", fs...)
	} else {
		s.Logger.Info("timer_stop", fs...)
	}
	return d
}

func (s *LogSink) IncrementCounter(name string, labels callmeter.Labels, amount int64) {
	s.Logger.Info("counter",
		append([]zap.Field{zap.String("metric", name), zap.Int64("amount", amount)}, fields(labels)...)...,
	)
}

func fields(labels callmeter.Labels) []zap.Field {
	fs := make([]zap.Field, 0, len(labels))
	for _, l := range labels {
		fs = append(fs, zap.String(l.Key, l.Value))
	}
	return fs
}
