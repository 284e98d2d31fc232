// Package mock provides a deterministic callmeter.Provider for tests.
package mock

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/ineyio/callmeter"
)

// Provider is a mock LLM provider for testing.
type Provider struct {
	name         string
	models       []string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	streamErr    error
	usage        *callmeter.Usage
	gate         <-chan struct{}
	responseFunc func(callmeter.ProviderRequest) (callmeter.ProviderResponse, error)
}

var _ callmeter.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   "mock",
		models: []string{"mock-model"},
		usage: &callmeter.Usage{
			InputTokens:  10,
			OutputTokens: 20,
			TotalTokens:  30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithModels sets supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithStreamError makes streams fail with err after the first chunk.
func WithStreamError(err error) Option {
	return func(p *Provider) { p.streamErr = err }
}

// WithUsage sets the usage returned by the mock. Nil reports no usage.
func WithUsage(u *callmeter.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithGate blocks every call until gate is closed or receives a value,
// which lets tests choose the order in which calls complete.
func WithGate(gate <-chan struct{}) Option {
	return func(p *Provider) { p.gate = gate }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(callmeter.ProviderRequest) (callmeter.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) ChatCompletion(ctx context.Context, req callmeter.ProviderRequest) (callmeter.ProviderResponse, error) {
	if err := p.wait(ctx); err != nil {
		return callmeter.ProviderResponse{}, err
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return callmeter.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return callmeter.ProviderResponse{}, callmeter.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	resp := callmeter.ProviderResponse{
		ID:           "mock-response-id",
		Content:      "Hello from mock provider",
		FinishReason: "stop",
		Model:        req.Model,
	}
	if p.usage != nil {
		u := *p.usage
		resp.Usage = &u
	}
	return resp, nil
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req callmeter.ProviderRequest) (callmeter.ProviderStream, error) {
	resp, err := p.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks := []callmeter.StreamChunk{
		{ID: resp.ID, Model: resp.Model},
		{ID: resp.ID, Model: resp.Model, Content: resp.Content},
		{ID: resp.ID, Model: resp.Model, Usage: resp.Usage},
	}
	return &mockStream{chunks: chunks, failErr: p.streamErr}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

func (p *Provider) wait(ctx context.Context) error {
	var delay <-chan time.Time
	if p.latency > 0 {
		delay = time.After(p.latency)
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type mockStream struct {
	chunks  []callmeter.StreamChunk
	index   int
	failErr error
}

func (s *mockStream) Next() (callmeter.StreamChunk, error) {
	if s.failErr != nil && s.index == 1 {
		return callmeter.StreamChunk{}, s.failErr
	}
	if s.index >= len(s.chunks) {
		return callmeter.StreamChunk{}, io.EOF
	}
	chunk := s.chunks[s.index]
	s.index++
	return chunk, nil
}

func (s *mockStream) Close() error { return nil }
