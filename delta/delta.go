// Package delta normalizes raw provider stream events into the canonical
// increment sequence consumed by the client API.
package delta

import (
	"encoding/json"
	"iter"

	"github.com/aqueductlabs/aqueduct/chunk"
	"github.com/aqueductlabs/aqueduct/provider"
	"github.com/aqueductlabs/aqueduct/sse"
)

// StreamDelta is one canonical increment of an in-progress model response.
// Within one logical stream the ID is stable and exactly one delta carries
// Finished=true, always the last one observed.
type StreamDelta struct {
	ID       string
	Delta    string
	ToolCall *ToolCallDelta
	Finished bool
	Usage    *provider.Usage
	Metadata map[string]string
}

// ToolCallDelta is incremental tool-call data surfaced mid-stream.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// SourceEvent is one raw event recovered from the wire, before any
// provider-specific interpretation.
type SourceEvent struct {
	Data map[string]any // nil when the payload was not a JSON object
	Raw  string         // exact payload text
	Type string         // SSE event name, when the source is SSE
}

// EventKind classifies a mapped event.
type EventKind int

const (
	// EventIgnore drops the event without diagnostics (keepalives, pings).
	EventIgnore EventKind = iota
	EventText
	EventToolCall
	EventUsage
	EventTerminal
)

// Event is a mapper's classification of one source event.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall *ToolCallDelta
	Usage    *provider.Usage
	Metadata map[string]string
}

// Mapper interprets one raw source event for a specific provider's wire
// dialect. Returning an error drops the event with a diagnostic; it never
// aborts the stream.
type Mapper func(ev SourceEvent) (Event, error)

// FromChunks adapts recovered JSON objects into source events.
func FromChunks(objs iter.Seq2[chunk.ParsedChunk, error]) iter.Seq2[SourceEvent, error] {
	return func(yield func(SourceEvent, error) bool) {
		for pc, err := range objs {
			if err != nil {
				yield(SourceEvent{}, err)
				return
			}
			if !yield(SourceEvent{Data: pc.Data, Raw: pc.Raw}, nil) {
				return
			}
		}
	}
}

// FromSSE adapts decoded SSE records into source events. The data payload is
// parsed as a JSON object when possible; otherwise Data is nil and the exact
// text is preserved in Raw (the "[DONE]" sentinel arrives this way).
func FromSSE(events iter.Seq2[sse.Event, error]) iter.Seq2[SourceEvent, error] {
	return func(yield func(SourceEvent, error) bool) {
		for ev, err := range events {
			if err != nil {
				yield(SourceEvent{}, err)
				return
			}
			se := SourceEvent{Raw: ev.Data, Type: ev.Event}
			if len(ev.Data) > 0 && ev.Data[0] == '{' {
				var data map[string]any
				if json.Unmarshal([]byte(ev.Data), &data) == nil {
					se.Data = data
				}
			}
			if !yield(se, nil) {
				return
			}
		}
	}
}
