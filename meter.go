package callmeter

import "time"

// Metric identifiers emitted by the observer.
const (
	MetricOperationDuration = "gen_ai.client.operation.duration"
	MetricTokenUsage        = "gen_ai.client.token.usage"
)

// CallSink receives measurements. Implementations must be safe for
// concurrent use and must not block.
type CallSink interface {
	// StartTimer opens a duration measurement.
	StartTimer(name string, labels Labels) Timer

	// StopTimer closes t, adding labels to the ones it was started with,
	// and returns the measured duration.
	StopTimer(t Timer, labels Labels) time.Duration

	// IncrementCounter adds amount to the counter series name/labels.
	IncrementCounter(name string, labels Labels, amount int64)
}

// Timer is an open duration measurement.
type Timer struct {
	Name    string
	Labels  Labels
	Started time.Time

	// Token holds backend-specific state.
	Token any
}
