package callmeter

import "context"

// Provider is the interface that LLM provider adapters implement.
// Instrument wraps a Provider so its calls are measured.
type Provider interface {
	// Name returns the provider identifier (e.g. "gemini", "openai").
	Name() string

	// SupportsModel returns true if this provider can handle the given model.
	SupportsModel(model string) bool

	// ChatCompletion performs a synchronous chat completion.
	ChatCompletion(ctx context.Context, req ProviderRequest) (ProviderResponse, error)

	// ChatCompletionStream performs a streaming chat completion.
	ChatCompletionStream(ctx context.Context, req ProviderRequest) (ProviderStream, error)
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Model    string
	Messages []Message

	Temperature *float64
	MaxTokens   *int
	Stream      bool

	// Attributes is passed through to the observer for logging.
	Attributes map[string]any
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID           string
	Content      string
	FinishReason string
	Usage        *Usage
	Model        string
}

// ProviderStream is the interface for streaming responses.
type ProviderStream interface {
	// Next returns the next chunk. Returns io.EOF when done.
	Next() (StreamChunk, error)

	// Close releases resources and signals completion.
	Close() error
}
