// Package sse decodes Server-Sent-Event records from a byte stream.
//
// Records are `field: value` lines terminated by a blank line. Only the
// fields this client consumes are decoded: data, event, id and retry.
package sse

import (
	"bytes"
	"fmt"
	"iter"
	"strconv"

	"go.uber.org/zap"
)

// Event is one decoded SSE record. Every field is independently optional;
// absent string fields are empty and an absent retry is nil.
type Event struct {
	Data  string
	Event string
	ID    string
	Retry *int // milliseconds, validated non-negative
}

// empty reports whether no field of the record was populated.
func (e *Event) empty() bool {
	return e.Data == "" && e.Event == "" && e.ID == "" && e.Retry == nil
}

// Option configures a decoder.
type Option func(*decoder)

// WithLogger sets the logger used for rejected-field diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(d *decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

type decoder struct {
	logger *zap.Logger
}

// Decode converts a sequence of byte buffers into a lazy sequence of SSE
// events. Buffers may split anywhere, including inside a line. A numeric
// retry field that is not a non-negative integer is rejected with a logged
// diagnostic rather than coerced; the rest of the record is kept.
func Decode(chunks iter.Seq2[[]byte, error], opts ...Option) iter.Seq2[Event, error] {
	d := &decoder{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return func(yield func(Event, error) bool) {
		var buf []byte
		var cur Event
		for data, err := range chunks {
			if err != nil {
				yield(Event{}, err)
				return
			}
			buf = append(buf, data...)

			for {
				nl := bytes.IndexByte(buf, '\n')
				if nl < 0 {
					break
				}
				line := bytes.TrimRight(buf[:nl], "\r")
				buf = buf[nl+1:]

				if len(line) == 0 {
					// Blank line terminates the record.
					if !cur.empty() {
						if !yield(cur, nil) {
							return
						}
						cur = Event{}
					}
					continue
				}
				d.applyField(&cur, line)
			}
		}

		// A record left open at end of stream is still delivered.
		if !cur.empty() {
			yield(cur, nil)
		}
	}
}

// applyField parses one `field: value` line into the record in progress.
// Lines without a known field name are ignored, as are comment lines.
func (d *decoder) applyField(ev *Event, line []byte) {
	if line[0] == ':' {
		return
	}
	field, value, ok := bytes.Cut(line, []byte(":"))
	if !ok {
		// A bare field name carries an empty value.
		field = line
		value = nil
	}
	value = bytes.TrimPrefix(value, []byte(" "))

	switch string(field) {
	case "data":
		ev.Data = string(value)
	case "event":
		ev.Event = string(value)
	case "id":
		ev.ID = string(value)
	case "retry":
		n, err := parseRetry(string(value))
		if err != nil {
			d.logger.Warn("rejecting invalid SSE retry field",
				zap.String("value", string(value)),
				zap.Error(err))
			return
		}
		ev.Retry = &n
	}
}

// parseRetry validates the retry value at the boundary: it must be a
// non-negative integer, never silently coerced.
func parseRetry(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("retry is not an integer: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("retry is negative: %d", n)
	}
	return n, nil
}
