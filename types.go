package callmeter

import "github.com/google/uuid"

// CallID is an opaque token identifying one logical model call.
// It must be unique among in-flight calls and is never derived from
// model or provider names.
type CallID string

// NewCallID returns a fresh random CallID.
func NewCallID() CallID {
	return CallID(uuid.New().String())
}

// Request describes a call at the moment it starts.
type Request struct {
	Model    string
	Provider string

	// Attributes is a free-form bag carried for logging only. It never
	// becomes a metric label.
	Attributes map[string]any
}

// Response describes a successfully completed call.
type Response struct {
	// Model is the model that actually served the call. Empty falls back
	// to the request model.
	Model string

	// Usage is nil when the provider reported no token usage.
	Usage *Usage
}

// Usage represents token usage information.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Outcome classifies a completed call.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeError   Outcome = "ERROR"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}
