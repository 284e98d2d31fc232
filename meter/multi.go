package meter

import (
	"time"

	"github.com/ineyio/callmeter"
)

// MultiSink fans measurements out to several sinks.
type MultiSink struct {
	sinks []callmeter.CallSink
}

var _ callmeter.CallSink = (*MultiSink)(nil)

// Multi returns a sink forwarding to every non-nil sink in sinks.
func Multi(sinks ...callmeter.CallSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }

func (m *MultiSink) StartTimer(name string, labels callmeter.Labels) callmeter.Timer {
	timers := make([]callmeter.Timer, len(m.sinks))
	for i, s := range m.sinks {
		timers[i] = s.StartTimer(name, labels)
	}

	t := callmeter.Timer{Name: name, Labels: labels, Started: time.Now(), Token: timers}
	if len(timers) > 0 {
		t.Started = timers[0].Started
	}
	return t
}

// StopTimer stops every inner timer and returns the first sink's duration.
func (m *MultiSink) StopTimer(t callmeter.Timer, labels callmeter.Labels) time.Duration {
	timers, ok := t.Token.([]callmeter.Timer)
	if !ok || len(timers) != len(m.sinks) {
		return time.Since(t.Started)
	}

	var d time.Duration
	for i, s := range m.sinks {
		got := s.StopTimer(timers[i], labels)
		if i == 0 {
			d = got
		}
	}
	if len(m.sinks) == 0 {
		d = time.Since(t.Started)
	}
	return d
}

func (m *MultiSink) IncrementCounter(name string, labels callmeter.Labels, amount int64) {
	for _, s := range m.sinks {
		s.IncrementCounter(name, labels, amount)
	}
}
