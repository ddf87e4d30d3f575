package cancel

import (
	"fmt"
	"time"
)

// Phase tags where in an operation's lifecycle a cancellation was observed.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseExecution      Phase = "execution"
	PhaseToolCalls      Phase = "tool_calls"
	PhaseStreaming      Phase = "streaming"
	PhaseCleanup        Phase = "cleanup"
)

// Error reports that cooperative cancellation was observed. Values are
// immutable once created.
type Error struct {
	Phase            Phase
	Reason           string
	CleanupCompleted bool
	Timestamp        time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation cancelled during %s: %s", e.Phase, e.Reason)
}

// GracefulTimeoutError reports that cleanup exceeded its time budget. It
// unwraps to *Error, so errors.As with a *Error target matches it too.
type GracefulTimeoutError struct {
	Err              *Error
	Timeout          time.Duration
	CleanupAttempted bool
}

func (e *GracefulTimeoutError) Error() string {
	return fmt.Sprintf("graceful cancellation timed out after %s: %s", e.Timeout, e.Err.Reason)
}

func (e *GracefulTimeoutError) Unwrap() error {
	return e.Err
}
