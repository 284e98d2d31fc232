package callmeter_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	cm "github.com/ineyio/callmeter"
	"github.com/ineyio/callmeter/meter"
)

type plannedCall struct {
	id     cm.CallID
	model  string
	in     int64
	out    int64
	failed bool
}

// Property: for any completion order of N open calls, every call yields
// exactly one measurement labelled with its own model, and counter totals
// equal the usage of the successful calls.
func TestProperty_AnyCompletionOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")

		sink := meter.NewMemorySink()
		obs, err := cm.New(sink, "prop_system")
		require.NoError(rt, err)

		calls := make([]plannedCall, n)
		indices := make([]int, n)
		for i := range calls {
			calls[i] = plannedCall{
				id:     cm.CallID(fmt.Sprintf("call-%d", i)),
				model:  fmt.Sprintf("model-%d", i),
				in:     rapid.Int64Range(0, 1000).Draw(rt, fmt.Sprintf("in-%d", i)),
				out:    rapid.Int64Range(0, 1000).Draw(rt, fmt.Sprintf("out-%d", i)),
				failed: rapid.Bool().Draw(rt, fmt.Sprintf("failed-%d", i)),
			}
			indices[i] = i
			require.NoError(rt, obs.OnRequest(calls[i].id, cm.Request{Model: calls[i].model}))
		}
		require.Equal(rt, n, obs.InFlight())

		order := rapid.Permutation(indices).Draw(rt, "order")

		var wantIn, wantOut int64
		for _, i := range order {
			c := calls[i]
			if c.failed {
				require.NoError(rt, obs.OnError(c.id, cm.ErrProviderUnavailable))
				continue
			}
			require.NoError(rt, obs.OnResponse(c.id, cm.Response{Usage: usage(c.in, c.out)}))
			wantIn += c.in
			wantOut += c.out
		}

		timers := sink.Timers()
		require.Len(rt, timers, n)
		for k, i := range order {
			c := calls[i]
			labels := timers[k].Labels.Map()
			assert.Equal(rt, c.model, labels[cm.LabelRequestModel])
			if c.failed {
				assert.Equal(rt, "ERROR", labels[cm.LabelOutcome])
				continue
			}
			assert.Equal(rt, "SUCCESS", labels[cm.LabelOutcome])
			assert.Equal(rt, c.model, labels[cm.LabelResponseModel])
			assert.Equal(rt, c.in, sink.CounterTotal(cm.MetricTokenUsage, tokenType(cm.TokenInput), requestModel(c.model)))
			assert.Equal(rt, c.out, sink.CounterTotal(cm.MetricTokenUsage, tokenType(cm.TokenOutput), requestModel(c.model)))
		}

		assert.Equal(rt, wantIn, sink.CounterTotal(cm.MetricTokenUsage, tokenType(cm.TokenInput)))
		assert.Equal(rt, wantOut, sink.CounterTotal(cm.MetricTokenUsage, tokenType(cm.TokenOutput)))
		assert.Equal(rt, 0, obs.InFlight())
		assert.Equal(rt, 0, sink.OpenTimers())
	})
}

// Property: however many terminal events arrive for one call, only the
// first is accepted.
func TestProperty_SingleTerminalEvent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sink := meter.NewMemorySink()
		obs, err := cm.New(sink, "prop_system")
		require.NoError(rt, err)

		id := cm.NewCallID()
		require.NoError(rt, obs.OnRequest(id, cm.Request{Model: "m"}))

		events := rapid.SliceOfN(rapid.Bool(), 1, 10).Draw(rt, "events")
		for i, success := range events {
			if success {
				err = obs.OnResponse(id, cm.Response{Usage: usage(1, 1)})
			} else {
				err = obs.OnError(id, cm.ErrRateLimited)
			}
			if i == 0 {
				require.NoError(rt, err)
			} else {
				require.ErrorIs(rt, err, cm.ErrUnknownCall)
			}
		}

		assert.Len(rt, sink.Timers(), 1)
	})
}
