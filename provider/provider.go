// Package provider defines the boundary between the streaming core and
// vendor-specific transports. A streaming provider opens a raw byte stream;
// recovering objects and mapping them to canonical deltas happens downstream
// in the core pipeline, never in vendor code.
package provider

import (
	"context"
	"iter"
)

// Provider is the core abstraction for LLM backends.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// Call executes a non-streaming request.
	Call(ctx context.Context, req *Request) (*Response, error)
}

// StreamFormat declares how a provider frames its byte stream.
type StreamFormat string

const (
	// FormatSSE frames events as Server-Sent-Event records.
	FormatSSE StreamFormat = "sse"

	// FormatJSON frames events as concatenated top-level JSON objects,
	// possibly wrapped in array punctuation (Gemini's REST streaming).
	FormatJSON StreamFormat = "json"

	// FormatJSONLines frames events as newline-delimited JSON objects.
	FormatJSONLines StreamFormat = "json_lines"
)

// StreamingProvider extends Provider with raw streaming capability.
type StreamingProvider interface {
	Provider

	// OpenStream starts a streaming request and returns the byte stream
	// exactly as received from the wire, fragmentation and all.
	OpenStream(ctx context.Context, req *Request) (RawStream, error)

	// StreamFormat reports how OpenStream's bytes are framed.
	StreamFormat() StreamFormat
}

// RawStream is a pull iterator over arbitrarily-fragmented byte buffers.
// Implementations own the underlying connection; Close releases it.
type RawStream interface {
	// Next advances to the next buffer, returning false at end of stream
	// or on error.
	Next() bool

	// Bytes returns the current buffer. It is only valid until the next
	// call to Next.
	Bytes() []byte

	// Err returns the error that ended the stream, if any.
	Err() error

	// Close releases the stream's resources.
	Close() error
}

// Chunks adapts a RawStream to the chunk-sequence form the core parsers
// consume. The stream's terminating error, if any, is yielded last.
func Chunks(s RawStream) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for s.Next() {
			if !yield(s.Bytes(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}
