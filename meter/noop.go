package meter

import (
	"time"

	"github.com/ineyio/callmeter"
)

// NoopSink is a sink that records nothing.
type NoopSink struct{}

var _ callmeter.CallSink = (*NoopSink)(nil)

func (NoopSink) StartTimer(name string, labels callmeter.Labels) callmeter.Timer {
	return callmeter.Timer{Name: name, Labels: labels, Started: time.Now()}
}

func (NoopSink) StopTimer(t callmeter.Timer, _ callmeter.Labels) time.Duration {
	return time.Since(t.Started)
}

func (NoopSink) IncrementCounter(string, callmeter.Labels, int64) {}
