package callmeter

import "sync"

// OverflowValue replaces label values past a cardinality limit.
const OverflowValue = "other"

// CardinalityLimiter bounds the number of distinct values per label key.
type CardinalityLimiter struct {
	limit int

	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewCardinalityLimiter creates a limiter allowing limit distinct values
// per key. A limit <= 0 disables limiting.
func NewCardinalityLimiter(limit int) *CardinalityLimiter {
	return &CardinalityLimiter{
		limit: limit,
		seen:  make(map[string]map[string]struct{}),
	}
}

// Limit returns value if it was already seen for key or there is still
// room for it, and OverflowValue otherwise.
func (c *CardinalityLimiter) Limit(key, value string) string {
	if c == nil || c.limit <= 0 {
		return value
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	values, ok := c.seen[key]
	if !ok {
		values = make(map[string]struct{})
		c.seen[key] = values
	}
	if _, ok := values[value]; ok {
		return value
	}
	if len(values) >= c.limit {
		return OverflowValue
	}
	values[value] = struct{}{}
	return value
}

// Cardinality returns the number of distinct values admitted for key.
func (c *CardinalityLimiter) Cardinality(key string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen[key])
}
