package delta

import (
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aqueductlabs/aqueduct/provider"
)

// testMapper reads pre-classified events from the raw payload.
func testMapper(ev SourceEvent) (Event, error) {
	if ev.Data == nil {
		return Event{}, fmt.Errorf("no payload: %q", ev.Raw)
	}
	switch kind, _ := ev.Data["kind"].(string); kind {
	case "text":
		text, _ := ev.Data["text"].(string)
		return Event{Kind: EventText, Text: text}, nil
	case "tool":
		name, _ := ev.Data["name"].(string)
		return Event{Kind: EventToolCall, ToolCall: &ToolCallDelta{Name: name}}, nil
	case "usage":
		total, _ := ev.Data["total"].(float64)
		return Event{Kind: EventUsage, Usage: &provider.Usage{TotalTokens: int(total)}}, nil
	case "done":
		return Event{Kind: EventTerminal}, nil
	case "ping":
		return Event{Kind: EventIgnore}, nil
	default:
		return Event{}, fmt.Errorf("unknown kind %q", kind)
	}
}

func events(evs ...SourceEvent) iter.Seq2[SourceEvent, error] {
	return func(yield func(SourceEvent, error) bool) {
		for _, ev := range evs {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func textEvent(s string) SourceEvent {
	return SourceEvent{Data: map[string]any{"kind": "text", "text": s}}
}

func doneEvent() SourceEvent {
	return SourceEvent{Data: map[string]any{"kind": "done"}}
}

func run(t *testing.T, n *Normalizer, src iter.Seq2[SourceEvent, error]) []StreamDelta {
	t.Helper()
	var out []StreamDelta
	for d, err := range n.Run(src) {
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestNormalizer_TextStream(t *testing.T) {
	n := NewNormalizer(testMapper, WithStreamID("s1"))

	got := run(t, n, events(textEvent("Hel"), textEvent("lo"), doneEvent()))

	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].Delta)
	assert.Equal(t, "lo", got[1].Delta)
	assert.True(t, got[2].Finished)
	for _, d := range got {
		assert.Equal(t, "s1", d.ID, "stream id is stable")
	}
}

func TestNormalizer_ExactlyOneFinishedAlwaysLast(t *testing.T) {
	tests := []struct {
		name string
		src  iter.Seq2[SourceEvent, error]
	}{
		{
			name: "explicit terminal",
			src:  events(textEvent("a"), doneEvent()),
		},
		{
			name: "synthesized at end of source",
			src:  events(textEvent("a"), textEvent("b")),
		},
		{
			name: "terminal followed by stray events",
			src:  events(textEvent("a"), doneEvent(), textEvent("late"), doneEvent()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, NewNormalizer(testMapper), tt.src)

			finished := 0
			for _, d := range got {
				if d.Finished {
					finished++
				}
			}
			assert.Equal(t, 1, finished)
			assert.True(t, got[len(got)-1].Finished, "finished delta is last")
		})
	}
}

func TestNormalizer_ToolCallPausesText(t *testing.T) {
	n := NewNormalizer(testMapper)

	src := events(
		textEvent("before"),
		SourceEvent{Data: map[string]any{"kind": "tool", "name": "get_weather"}},
		textEvent("suppressed"),
		doneEvent(),
	)
	got := run(t, n, src)

	require.Len(t, got, 3)
	assert.Equal(t, "before", got[0].Delta)
	require.NotNil(t, got[1].ToolCall)
	assert.Equal(t, "get_weather", got[1].ToolCall.Name)
	assert.True(t, got[2].Finished)
}

func TestNormalizer_UsageAttachedToFinishedDelta(t *testing.T) {
	n := NewNormalizer(testMapper)

	src := events(
		textEvent("x"),
		SourceEvent{Data: map[string]any{"kind": "usage", "total": float64(42)}},
		doneEvent(),
	)
	got := run(t, n, src)

	require.Len(t, got, 2)
	assert.Nil(t, got[0].Usage)
	require.NotNil(t, got[1].Usage)
	assert.Equal(t, 42, got[1].Usage.TotalTokens)
}

func TestNormalizer_UnmappableEventDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := NewNormalizer(testMapper, WithLogger(zap.New(core)))

	src := events(
		textEvent("keep"),
		SourceEvent{Data: map[string]any{"kind": "garbage"}},
		doneEvent(),
	)
	got := run(t, n, src)

	require.Len(t, got, 2)
	assert.Equal(t, "keep", got[0].Delta)
	assert.Equal(t, 1, logs.Len())
}

func TestNormalizer_IgnoredEventsEmitNothing(t *testing.T) {
	n := NewNormalizer(testMapper)

	src := events(SourceEvent{Data: map[string]any{"kind": "ping"}}, doneEvent())
	got := run(t, n, src)

	require.Len(t, got, 1)
	assert.True(t, got[0].Finished)
}

func TestNormalizer_SourceErrorEndsIteration(t *testing.T) {
	cause := errors.New("parser overflow")
	src := func(yield func(SourceEvent, error) bool) {
		if !yield(textEvent("a"), nil) {
			return
		}
		yield(SourceEvent{}, cause)
	}

	n := NewNormalizer(testMapper)
	var deltas []StreamDelta
	var err error
	for d, e := range n.Run(src) {
		if e != nil {
			err = e
			break
		}
		deltas = append(deltas, d)
	}

	require.Len(t, deltas, 1)
	assert.ErrorIs(t, err, cause)
	for _, d := range deltas {
		assert.False(t, d.Finished, "no finished delta on an errored stream")
	}
}

func TestNormalizer_GeneratesStableID(t *testing.T) {
	n := NewNormalizer(testMapper)
	require.NotEmpty(t, n.ID())

	got := run(t, n, events(textEvent("a"), doneEvent()))
	for _, d := range got {
		assert.Equal(t, n.ID(), d.ID)
	}
}
