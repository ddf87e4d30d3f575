package delta

import (
	"iter"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aqueductlabs/aqueduct/provider"
)

// state is the normalizer's position in its lifecycle.
type state int

const (
	stateStreaming state = iota
	stateToolCall        // text emission paused, tool calls surfaced
	stateCompleted       // terminal: the finished delta has been emitted
	stateError           // terminal: iteration ended with an error
)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithStreamID fixes the stream id instead of generating one.
func WithStreamID(id string) Option {
	return func(n *Normalizer) {
		if id != "" {
			n.id = id
		}
	}
}

// WithLogger sets the logger used for dropped-event diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// Normalizer turns raw source events into the canonical delta sequence.
// Each streaming session owns exactly one Normalizer; state is never shared
// across streams.
type Normalizer struct {
	id     string
	mapper Mapper
	logger *zap.Logger
	state  state
	usage  *provider.Usage
}

// NewNormalizer creates a normalizer bound to one logical stream.
func NewNormalizer(mapper Mapper, opts ...Option) *Normalizer {
	n := &Normalizer{
		id:     uuid.NewString(),
		mapper: mapper,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ID returns the stable stream id carried by every emitted delta.
func (n *Normalizer) ID() string {
	return n.id
}

// Run consumes source events and emits the canonical increment sequence.
// Unmapped or malformed events are dropped with a diagnostic rather than
// aborting the stream. Termination is monotonic: after the terminal marker
// no further deltas follow, and exactly one delta has Finished=true, emitted
// last. When the source ends without an explicit terminal marker the
// finished delta is synthesized so the invariant holds for every healthy
// stream; a source error ends iteration with that error and no finished
// delta.
func (n *Normalizer) Run(src iter.Seq2[SourceEvent, error]) iter.Seq2[StreamDelta, error] {
	return func(yield func(StreamDelta, error) bool) {
		for ev, err := range src {
			if err != nil {
				n.state = stateError
				yield(StreamDelta{}, err)
				return
			}
			if n.state == stateCompleted {
				// Monotonic termination: trailing events are ignored.
				continue
			}

			mapped, err := n.mapper(ev)
			if err != nil {
				n.logger.Warn("dropping unmappable stream event",
					zap.String("stream_id", n.id),
					zap.String("raw", ev.Raw),
					zap.Error(err))
				continue
			}

			// Usage may ride on any event kind; totals win at the end.
			n.mergeUsage(mapped.Usage)

			switch mapped.Kind {
			case EventIgnore:

			case EventText:
				if n.state == stateToolCall {
					// Text emission stays paused once tool calls appear.
					n.logger.Debug("suppressing text delta after tool call",
						zap.String("stream_id", n.id))
					continue
				}
				d := StreamDelta{ID: n.id, Delta: mapped.Text, Metadata: mapped.Metadata}
				if !yield(d, nil) {
					return
				}

			case EventToolCall:
				n.state = stateToolCall
				d := StreamDelta{ID: n.id, ToolCall: mapped.ToolCall, Metadata: mapped.Metadata}
				if !yield(d, nil) {
					return
				}

			case EventUsage:

			case EventTerminal:
				n.state = stateCompleted
				d := StreamDelta{ID: n.id, Finished: true, Usage: n.usage, Metadata: mapped.Metadata}
				if !yield(d, nil) {
					return
				}
			}
		}

		if n.state != stateCompleted {
			n.state = stateCompleted
			yield(StreamDelta{ID: n.id, Finished: true, Usage: n.usage}, nil)
		}
	}
}

// mergeUsage keeps the latest non-zero counters; providers that report usage
// incrementally send the totals in their final event.
func (n *Normalizer) mergeUsage(u *provider.Usage) {
	if u == nil {
		return
	}
	if n.usage == nil {
		n.usage = &provider.Usage{}
	}
	if u.PromptTokens > 0 {
		n.usage.PromptTokens = u.PromptTokens
	}
	if u.CompletionTokens > 0 {
		n.usage.CompletionTokens = u.CompletionTokens
	}
	if u.TotalTokens > 0 {
		n.usage.TotalTokens = u.TotalTokens
	}
}
