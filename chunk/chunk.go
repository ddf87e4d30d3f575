// Package chunk recovers complete top-level JSON objects from a byte stream
// that may be split at arbitrary points, including mid-token and mid-rune.
// It also supports JSON-Lines streams (one object per newline-terminated line).
package chunk

import (
	"bytes"
	"encoding/json"
	"iter"

	"go.uber.org/zap"
)

// DefaultMaxObjectSize is the default buffering budget for a single object.
const DefaultMaxObjectSize = 1 << 20 // 1 MiB

// ParsedChunk is one recovered JSON object together with its exact source
// text. Values are ephemeral: consumers must not retain them past one
// iteration step.
type ParsedChunk struct {
	Data map[string]any
	Raw  string
}

// Option configures a parser.
type Option func(*options)

type options struct {
	maxObjectSize int
	logger        *zap.Logger
}

// WithMaxObjectSize sets the maximum number of bytes buffered while waiting
// for an object to complete. Exceeding it terminates the stream with a
// *StreamingError.
func WithMaxObjectSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxObjectSize = n
		}
	}
}

// WithLogger sets the logger used for skipped-object diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		maxObjectSize: DefaultMaxObjectSize,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ParseJSON converts a sequence of byte buffers into a lazy sequence of
// complete top-level JSON objects. Buffers may split the payload anywhere:
// inside a token, inside a string, or inside a multi-byte UTF-8 codepoint.
// The buffer is kept as raw bytes and only sliced at ASCII delimiters, so
// split codepoints are reassembled before decoding.
//
// A malformed object is logged and skipped; it never suppresses surrounding
// valid objects. An incomplete object left at end of stream is attempted one
// final time and silently dropped if still incomplete.
//
// The returned sequence is finite and not restartable. Each call owns its
// own buffer; parsers are never shared between streams.
func ParseJSON(chunks iter.Seq2[[]byte, error], opts ...Option) iter.Seq2[ParsedChunk, error] {
	o := newOptions(opts...)
	return func(yield func(ParsedChunk, error) bool) {
		var buf []byte
		for data, err := range chunks {
			if err != nil {
				yield(ParsedChunk{}, err)
				return
			}
			if len(data) == 0 {
				continue
			}
			buf = append(buf, data...)

			// Drain every complete object before reading more bytes.
			for {
				start, end, found := scanObject(buf)
				if !found {
					break
				}
				raw := buf[start:end]
				if len(raw) > o.maxObjectSize {
					yield(ParsedChunk{}, &StreamingError{Op: "parse_json", Limit: o.maxObjectSize})
					return
				}
				pc, ok := decodeObject(raw, o.logger)
				if ok && !yield(pc, nil) {
					return
				}
				buf = buf[end:]
			}

			if len(buf) > o.maxObjectSize {
				yield(ParsedChunk{}, &StreamingError{Op: "parse_json", Limit: o.maxObjectSize})
				return
			}
		}

		// Normal end of stream: give a trailing partial object one last
		// chance, then drop it without error.
		rest := bytes.TrimSpace(buf)
		if len(rest) == 0 {
			return
		}
		if pc, ok := decodeObject(rest, nil); ok {
			yield(pc, nil)
			return
		}
		o.logger.Debug("dropping incomplete trailing object",
			zap.Int("buffered_bytes", len(rest)))
	}
}

// ParseJSONLines converts a sequence of byte buffers carrying newline-
// delimited JSON into a lazy sequence of objects. Blank lines are skipped,
// malformed lines are logged and skipped, and the final unterminated line is
// parsed once at end of stream.
func ParseJSONLines(chunks iter.Seq2[[]byte, error], opts ...Option) iter.Seq2[ParsedChunk, error] {
	o := newOptions(opts...)
	return func(yield func(ParsedChunk, error) bool) {
		var buf []byte
		for data, err := range chunks {
			if err != nil {
				yield(ParsedChunk{}, err)
				return
			}
			if len(data) == 0 {
				continue
			}
			buf = append(buf, data...)

			for {
				nl := bytes.IndexByte(buf, '\n')
				if nl < 0 {
					break
				}
				line := buf[:nl]
				buf = buf[nl+1:]
				if len(line) > o.maxObjectSize {
					yield(ParsedChunk{}, &StreamingError{Op: "parse_json_lines", Limit: o.maxObjectSize})
					return
				}
				pc, ok := decodeLine(line, o.logger)
				if ok && !yield(pc, nil) {
					return
				}
			}

			if len(buf) > o.maxObjectSize {
				yield(ParsedChunk{}, &StreamingError{Op: "parse_json_lines", Limit: o.maxObjectSize})
				return
			}
		}

		// Final unterminated line.
		if pc, ok := decodeLine(buf, o.logger); ok {
			yield(pc, nil)
		}
	}
}

// scanObject finds the first complete top-level JSON object in buf, tracking
// quote state, pending escapes and brace depth. It returns the half-open byte
// range of the object, or found=false when no object has closed yet.
func scanObject(buf []byte) (start, end int, found bool) {
	depth := 0
	inString := false
	escaped := false
	start = -1
	for i, c := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			// Quotes outside an object are stray bytes between records.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return start, i + 1, true
				}
			}
		}
	}
	return -1, -1, false
}

func decodeObject(raw []byte, logger *zap.Logger) (ParsedChunk, bool) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		if logger != nil {
			logger.Warn("skipping malformed JSON object",
				zap.Int("bytes", len(raw)),
				zap.Error(err))
		}
		return ParsedChunk{}, false
	}
	return ParsedChunk{Data: data, Raw: string(raw)}, true
}

func decodeLine(line []byte, logger *zap.Logger) (ParsedChunk, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return ParsedChunk{}, false
	}
	var data map[string]any
	if err := json.Unmarshal(line, &data); err != nil {
		if logger != nil {
			logger.Warn("skipping malformed JSON line",
				zap.Int("bytes", len(line)),
				zap.Error(err))
		}
		return ParsedChunk{}, false
	}
	return ParsedChunk{Data: data, Raw: string(line)}, true
}
