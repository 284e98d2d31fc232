package callmeter

import (
	"context"

	"go.uber.org/zap"
)

// InstrumentedProvider reports every call of the wrapped Provider to an
// Observer. Observer failures are logged and never change the result the
// caller sees.
type InstrumentedProvider struct {
	inner  Provider
	obs    *Observer
	logger *zap.Logger
	newID  func() CallID
}

var _ Provider = (*InstrumentedProvider)(nil)

// InstrumentOption configures an InstrumentedProvider.
type InstrumentOption func(*InstrumentedProvider)

// WithInstrumentLogger sets the logger for observer failures.
func WithInstrumentLogger(l *zap.Logger) InstrumentOption {
	return func(p *InstrumentedProvider) { p.logger = l }
}

// WithCallIDFunc sets the CallID generator (default NewCallID).
func WithCallIDFunc(fn func() CallID) InstrumentOption {
	return func(p *InstrumentedProvider) { p.newID = fn }
}

// Instrument wraps p so that each call is reported to obs.
func Instrument(p Provider, obs *Observer, opts ...InstrumentOption) *InstrumentedProvider {
	ip := &InstrumentedProvider{
		inner: p,
		obs:   obs,
	}
	for _, opt := range opts {
		opt(ip)
	}
	if ip.logger == nil {
		ip.logger = zap.NewNop()
	}
	if ip.newID == nil {
		ip.newID = NewCallID
	}
	return ip
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SupportsModel(model string) bool {
	return p.inner.SupportsModel(model)
}

// ChatCompletion calls the wrapped provider between OnRequest and one
// terminal event.
func (p *InstrumentedProvider) ChatCompletion(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	id, tracked := p.start(req)

	resp, err := p.inner.ChatCompletion(ctx, req)
	if err != nil {
		if tracked {
			p.report(p.obs.OnError(id, err))
		}
		return ProviderResponse{}, err
	}

	if tracked {
		p.report(p.obs.OnResponse(id, Response{Model: resp.Model, Usage: resp.Usage}))
	}
	return resp, nil
}

// ChatCompletionStream opens a stream whose terminal event is reported
// when it is closed.
func (p *InstrumentedProvider) ChatCompletionStream(ctx context.Context, req ProviderRequest) (ProviderStream, error) {
	id, tracked := p.start(req)

	stream, err := p.inner.ChatCompletionStream(ctx, req)
	if err != nil {
		if tracked {
			p.report(p.obs.OnError(id, err))
		}
		return nil, err
	}

	return &instrumentedStream{
		inner:   stream,
		id:      id,
		tracked: tracked,
		report:  p.report,
		obs:     p.obs,
	}, nil
}

// start opens the call with the observer. When the observer rejects the
// id, the call is not tracked and no terminal event may be sent for it:
// that id may belong to another live call.
func (p *InstrumentedProvider) start(req ProviderRequest) (CallID, bool) {
	id := p.newID()
	err := p.obs.OnRequest(id, Request{
		Model:      req.Model,
		Provider:   p.inner.Name(),
		Attributes: req.Attributes,
	})
	p.report(err)
	return id, err == nil
}

func (p *InstrumentedProvider) report(err error) {
	if err != nil {
		p.logger.Warn("observer rejected lifecycle event",
			zap.String("provider", p.inner.Name()),
			zap.Error(err),
		)
	}
}
