package chunk

import "fmt"

// StreamingError is a stream-ending parser failure, such as the buffering
// budget being exceeded while waiting for an object to complete. Malformed
// individual objects are recovered locally and never produce one.
type StreamingError struct {
	Op    string // "parse_json" or "parse_json_lines"
	Limit int    // configured max object size in bytes, if the budget was exceeded
	Cause error
}

func (e *StreamingError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%s: buffered object exceeds max object size of %d bytes", e.Op, e.Limit)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: streaming error", e.Op)
}

func (e *StreamingError) Unwrap() error {
	return e.Cause
}
