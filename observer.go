package callmeter

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Observer correlates call lifecycle events into measurements.
// It is safe for concurrent use.
type Observer struct {
	sink     CallSink
	system   string
	logger   *zap.Logger
	limiter  *CardinalityLimiter
	classify func(error) string
	mapping  map[string]string

	mu    sync.Mutex
	slots map[CallID]*slot
}

// slot carries one call from OnRequest to its terminal event. Once taken
// out of the store it is owned by the goroutine that took it.
//
// A slot is published before its timer is started so that the sink is
// never called under Observer.mu. ready is closed once timer is set;
// terminal events wait on it before reading timer.
type slot struct {
	ready        chan struct{}
	requestModel string
	labels       Labels
	timer        Timer
	extra        Labels
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// WithCardinalityLimiter bounds model and error type label values.
func WithCardinalityLimiter(c *CardinalityLimiter) Option {
	return func(o *Observer) { o.limiter = c }
}

// WithErrorClassifier replaces ErrorType as the error classifier.
func WithErrorClassifier(fn func(error) string) Option {
	return func(o *Observer) { o.classify = fn }
}

// WithErrorTypeMapping renames classified error types, e.g. to fold
// several types into one bucket.
func WithErrorTypeMapping(m map[string]string) Option {
	return func(o *Observer) {
		o.mapping = make(map[string]string, len(m))
		for k, v := range m {
			o.mapping[k] = v
		}
	}
}

// New creates an Observer emitting to sink. Every measurement is labelled
// with systemName.
func New(sink CallSink, systemName string, opts ...Option) (*Observer, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidConfiguration)
	}
	if strings.TrimSpace(systemName) == "" {
		return nil, fmt.Errorf("%w: system name is required", ErrInvalidConfiguration)
	}

	o := &Observer{
		sink:   sink,
		system: systemName,
		slots:  make(map[CallID]*slot),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.classify == nil {
		o.classify = ErrorType
	}
	o.logger = o.logger.With(zap.String("component", "callmeter"), zap.String("system", systemName))

	return o, nil
}

// NewFromConfig validates cfg and creates an Observer from it.
// Explicit options are applied after the ones derived from cfg.
func NewFromConfig(cfg Config, sink CallSink, opts ...Option) (*Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var base []Option
	if cfg.Cardinality.MaxValuesPerLabel > 0 {
		base = append(base, WithCardinalityLimiter(NewCardinalityLimiter(cfg.Cardinality.MaxValuesPerLabel)))
	}
	if len(cfg.ErrorTypes) > 0 {
		base = append(base, WithErrorTypeMapping(cfg.ErrorTypes))
	}
	return New(sink, cfg.SystemName, append(base, opts...)...)
}

// OnRequest opens the measurement for call id.
func (o *Observer) OnRequest(id CallID, req Request) error {
	if id == "" {
		return &CallError{Op: "request", CallID: id, Err: fmt.Errorf("%w: empty call id", ErrInvalidArgument)}
	}

	labels := RequestLabels(o.system, req)
	labels = labels.With(LabelRequestModel, o.limit(LabelRequestModel, labels))

	s := &slot{
		ready:        make(chan struct{}),
		requestModel: req.Model,
		labels:       labels,
	}

	o.mu.Lock()
	if _, live := o.slots[id]; live {
		o.mu.Unlock()
		o.logger.Warn("duplicate request for live call", zap.String("call_id", string(id)))
		return &CallError{Op: "request", CallID: id, Err: fmt.Errorf("%w: call already in flight", ErrInvalidArgument)}
	}
	o.slots[id] = s
	o.mu.Unlock()

	s.timer = o.sink.StartTimer(MetricOperationDuration, labels)
	close(s.ready)

	o.logger.Debug("call started",
		zap.String("call_id", string(id)),
		zap.String("provider", req.Provider),
		zap.String("model", req.Model),
		zap.Any("attributes", req.Attributes),
	)
	return nil
}

// OnResponse completes call id successfully and records its token usage.
func (o *Observer) OnResponse(id CallID, resp Response) error {
	if id == "" {
		return &CallError{Op: "response", CallID: id, Err: fmt.Errorf("%w: empty call id", ErrInvalidArgument)}
	}
	if err := validateUsage(resp.Usage); err != nil {
		return &CallError{Op: "response", CallID: id, Err: err}
	}

	s, err := o.take("response", id)
	if err != nil {
		return err
	}

	requestModel := s.requestModel
	if requestModel == "" {
		requestModel = UnknownModel
	}
	s.extra = ResponseLabels(requestModel, resp)
	s.extra = s.extra.With(LabelResponseModel, o.limit(LabelResponseModel, s.extra))

	duration := o.sink.StopTimer(s.timer, s.extra)

	counterLabels := s.labels.With(LabelResponseModel, mustGet(s.extra, LabelResponseModel))
	for _, tc := range TokenCounts(resp.Usage) {
		o.sink.IncrementCounter(MetricTokenUsage, counterLabels.With(LabelTokenType, string(tc.Type)), tc.Count)
	}

	o.logger.Debug("call completed",
		zap.String("call_id", string(id)),
		zap.String("outcome", string(OutcomeSuccess)),
		zap.Duration("duration", duration),
	)
	return nil
}

// OnError completes call id as failed. callErr is classified for the
// error type label only.
func (o *Observer) OnError(id CallID, callErr error) error {
	if id == "" {
		return &CallError{Op: "error", CallID: id, Err: fmt.Errorf("%w: empty call id", ErrInvalidArgument)}
	}
	if callErr == nil {
		return &CallError{Op: "error", CallID: id, Err: fmt.Errorf("%w: nil error", ErrInvalidArgument)}
	}

	s, err := o.take("error", id)
	if err != nil {
		return err
	}

	errorType := o.errorType(callErr)
	s.extra = ErrorLabels(errorType)

	duration := o.sink.StopTimer(s.timer, s.extra)

	o.logger.Debug("call completed",
		zap.String("call_id", string(id)),
		zap.String("outcome", string(OutcomeError)),
		zap.String("error_type", errorType),
		zap.Duration("duration", duration),
	)
	return nil
}

// InFlight returns the number of calls without a terminal event.
func (o *Observer) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.slots)
}

// take removes and returns the slot for id. Reading and removing happen
// under one lock so that only one terminal event can win a slot.
func (o *Observer) take(op string, id CallID) (*slot, error) {
	o.mu.Lock()
	s, ok := o.slots[id]
	if ok {
		delete(o.slots, id)
	}
	o.mu.Unlock()

	if !ok {
		o.logger.Warn("terminal event for unknown call",
			zap.String("op", op),
			zap.String("call_id", string(id)),
		)
		return nil, &CallError{Op: op, CallID: id, Err: ErrUnknownCall}
	}
	<-s.ready
	return s, nil
}

func (o *Observer) errorType(err error) string {
	name := o.classify(err)
	if name == "" {
		name = "error"
	}
	if mapped, ok := o.mapping[name]; ok {
		name = mapped
	}
	return o.limiter.Limit(LabelErrorType, name)
}

func (o *Observer) limit(key string, labels Labels) string {
	return o.limiter.Limit(key, mustGet(labels, key))
}

func mustGet(labels Labels, key string) string {
	v, _ := labels.Get(key)
	return v
}
