package meter

import (
	"sync"
	"time"

	"github.com/ineyio/callmeter"
)

// TimerRecord is a completed duration measurement.
type TimerRecord struct {
	Name     string
	Labels   callmeter.Labels
	Started  time.Time
	Duration time.Duration
}

// CounterRecord is one counter increment.
type CounterRecord struct {
	Name   string
	Labels callmeter.Labels
	Amount int64
}

// MemorySink keeps every measurement in memory. It is meant for tests
// and in-process inspection.
type MemorySink struct {
	now func() time.Time

	mu       sync.Mutex
	nextID   uint64
	open     map[uint64]struct{}
	timers   []TimerRecord
	counters []CounterRecord
}

var _ callmeter.CallSink = (*MemorySink)(nil)

// MemoryOption configures a MemorySink.
type MemoryOption func(*MemorySink)

// WithMemoryClock sets the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemorySink) { s.now = now }
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink(opts ...MemoryOption) *MemorySink {
	s := &MemorySink{
		now:  time.Now,
		open: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemorySink) StartTimer(name string, labels callmeter.Labels) callmeter.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.open[s.nextID] = struct{}{}
	return callmeter.Timer{Name: name, Labels: labels, Started: s.now(), Token: s.nextID}
}

// StopTimer records t. Stopping a timer twice records it once.
func (s *MemorySink) StopTimer(t callmeter.Timer, labels callmeter.Labels) time.Duration {
	d := s.now().Sub(t.Started)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := t.Token.(uint64)
	if _, ok := s.open[id]; !ok {
		return d
	}
	delete(s.open, id)

	s.timers = append(s.timers, TimerRecord{
		Name:     t.Name,
		Labels:   t.Labels.Merge(labels),
		Started:  t.Started,
		Duration: d,
	})
	return d
}

func (s *MemorySink) IncrementCounter(name string, labels callmeter.Labels, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = append(s.counters, CounterRecord{Name: name, Labels: labels, Amount: amount})
}

// Timers returns the completed timers in completion order.
func (s *MemorySink) Timers() []TimerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TimerRecord, len(s.timers))
	copy(out, s.timers)
	return out
}

// OpenTimers returns the number of started but not stopped timers.
func (s *MemorySink) OpenTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Counters returns every counter increment in order.
func (s *MemorySink) Counters() []CounterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CounterRecord, len(s.counters))
	copy(out, s.counters)
	return out
}

// CounterTotal sums the increments of counter name whose labels contain
// every label in match.
func (s *MemorySink) CounterTotal(name string, match ...callmeter.Label) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, c := range s.counters {
		if c.Name == name && hasAll(c.Labels, match) {
			total += c.Amount
		}
	}
	return total
}

func hasAll(labels callmeter.Labels, match []callmeter.Label) bool {
	for _, m := range match {
		if v, ok := labels.Get(m.Key); !ok || v != m.Value {
			return false
		}
	}
	return true
}
