package interceptor

import "fmt"

// Error wraps any middleware-stage failure: a stage returning an error, a
// stage returning a nil context, or an aborted signal at chain entry.
type Error struct {
	Name  string // interceptor name, empty for entry failures
	Stage string // "request", "response" or "entry"
	Cause error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("interceptor %q failed during %s: %v", e.Name, e.Stage, e.Cause)
	}
	return fmt.Sprintf("interceptor chain failed at %s: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
