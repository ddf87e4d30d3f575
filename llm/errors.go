package llm

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrProviderRequired is returned when WithProvider is not specified.
	ErrProviderRequired = errors.New("provider is required: use WithProvider option")

	// ErrModelRequired is returned when WithModel is not specified.
	ErrModelRequired = errors.New("model is required: use WithModel option")

	// ErrMapperRequired is returned when a streaming provider supplies no
	// delta mapper and none was set with WithMapper.
	ErrMapperRequired = errors.New("stream mapper is required: provider does not supply one, use WithMapper option")
)

// ToolError represents an error during tool execution.
type ToolError struct {
	ToolName string
	Cause    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.ToolName, e.Cause)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// ToolNotFoundError is returned when the model requests a tool that was not
// supplied with the call.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %q", e.Name)
}
