package callmeter_test

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	cm "github.com/ineyio/callmeter"
)

func TestCardinalityLimiter(t *testing.T) {
	l := cm.NewCardinalityLimiter(2)

	assert.Equal(t, "a", l.Limit("model", "a"))
	assert.Equal(t, "b", l.Limit("model", "b"))
	assert.Equal(t, cm.OverflowValue, l.Limit("model", "c"))
	assert.Equal(t, "a", l.Limit("model", "a"), "admitted values stay admitted")
	assert.Equal(t, 2, l.Cardinality("model"))

	// Keys are bounded independently.
	assert.Equal(t, "c", l.Limit("error", "c"))
	assert.Equal(t, 1, l.Cardinality("error"))
}

func TestCardinalityLimiter_Disabled(t *testing.T) {
	var nilLimiter *cm.CardinalityLimiter
	assert.Equal(t, "x", nilLimiter.Limit("model", "x"))
	assert.Equal(t, 0, nilLimiter.Cardinality("model"))

	l := cm.NewCardinalityLimiter(0)
	for i := 0; i < 100; i++ {
		v := fmt.Sprintf("v%d", i)
		assert.Equal(t, v, l.Limit("model", v))
	}
}

func TestCardinalityLimiter_Concurrent(t *testing.T) {
	l := cm.NewCardinalityLimiter(10)

	var admitted atomic.Int64
	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			if l.Limit("model", fmt.Sprintf("model-%d", i)) != cm.OverflowValue {
				admitted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(10), admitted.Load())
	assert.Equal(t, 10, l.Cardinality("model"))
}
