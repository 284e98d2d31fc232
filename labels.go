package callmeter

import "fmt"

// Label keys attached to measurements.
const (
	LabelOperationName = "gen_ai.operation.name"
	LabelSystem        = "gen_ai.system"
	LabelRequestModel  = "gen_ai.request.model"
	LabelResponseModel = "gen_ai.response.model"
	LabelTokenType     = "gen_ai.token.type"
	LabelErrorType     = "error.type"
	LabelOutcome       = "outcome"
)

// OperationChat is the operation name of every observed call.
const OperationChat = "chat"

// UnknownModel labels calls that named no model.
const UnknownModel = "unknown"

// Label schemas: the keys each metric series may carry.
var (
	OperationDurationLabels = []string{
		LabelOperationName,
		LabelSystem,
		LabelRequestModel,
		LabelResponseModel,
		LabelOutcome,
		LabelErrorType,
	}
	TokenUsageLabels = []string{
		LabelOperationName,
		LabelSystem,
		LabelRequestModel,
		LabelResponseModel,
		LabelTokenType,
	}
)

// Label is a single key/value pair.
type Label struct {
	Key   string
	Value string
}

// Labels is an ordered set of labels with unique keys.
type Labels []Label

// Get returns the value for key.
func (ls Labels) Get(key string) (string, bool) {
	for _, l := range ls {
		if l.Key == key {
			return l.Value, true
		}
	}
	return "", false
}

// With returns a copy of ls with key set to value. An existing key keeps
// its position.
func (ls Labels) With(key, value string) Labels {
	out := make(Labels, len(ls), len(ls)+1)
	copy(out, ls)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Label{Key: key, Value: value})
}

// Merge returns a copy of ls with every label of other set on it.
// Keys are added or overwritten, never removed.
func (ls Labels) Merge(other Labels) Labels {
	out := make(Labels, len(ls), len(ls)+len(other))
	copy(out, ls)
	for _, l := range other {
		out = out.with(l)
	}
	return out
}

func (ls Labels) with(l Label) Labels {
	for i := range ls {
		if ls[i].Key == l.Key {
			ls[i].Value = l.Value
			return ls
		}
	}
	return append(ls, l)
}

// Map returns the labels as a map.
func (ls Labels) Map() map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

// TokenType is the closed vocabulary of token counter types.
type TokenType string

const (
	TokenInput  TokenType = "input"
	TokenOutput TokenType = "output"
)

// TokenTypes returns every token type in emission order.
func TokenTypes() []TokenType {
	return []TokenType{TokenInput, TokenOutput}
}

// ParseTokenType returns the TokenType named s.
func ParseTokenType(s string) (TokenType, error) {
	for _, t := range TokenTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown token type %q", ErrInvalidArgument, s)
}

// TokenCount is one token counter increment.
type TokenCount struct {
	Type  TokenType
	Count int64
}

// RequestLabels returns the labels known when a call starts.
func RequestLabels(system string, req Request) Labels {
	model := req.Model
	if model == "" {
		model = UnknownModel
	}
	return Labels{
		{Key: LabelOperationName, Value: OperationChat},
		{Key: LabelSystem, Value: system},
		{Key: LabelRequestModel, Value: model},
	}
}

// ResponseLabels returns the labels added when a call succeeds.
func ResponseLabels(requestModel string, resp Response) Labels {
	model := resp.Model
	if model == "" {
		model = requestModel
	}
	return Labels{
		{Key: LabelResponseModel, Value: model},
		{Key: LabelOutcome, Value: string(OutcomeSuccess)},
	}
}

// ErrorLabels returns the labels added when a call fails.
func ErrorLabels(errorType string) Labels {
	return Labels{
		{Key: LabelOutcome, Value: string(OutcomeError)},
		{Key: LabelErrorType, Value: errorType},
	}
}

// TokenCounts returns one count per token type with a positive value.
// A nil usage yields no counts.
func TokenCounts(u *Usage) []TokenCount {
	if u == nil {
		return nil
	}
	var counts []TokenCount
	if u.InputTokens > 0 {
		counts = append(counts, TokenCount{Type: TokenInput, Count: u.InputTokens})
	}
	if u.OutputTokens > 0 {
		counts = append(counts, TokenCount{Type: TokenOutput, Count: u.OutputTokens})
	}
	return counts
}

func validateUsage(u *Usage) error {
	if u == nil {
		return nil
	}
	if u.InputTokens < 0 || u.OutputTokens < 0 || u.TotalTokens < 0 {
		return fmt.Errorf("%w: negative token usage", ErrInvalidArgument)
	}
	return nil
}
