package provider

import "fmt"

// APIError represents an HTTP-level error from a provider API. Vendors fill
// RetryAfter from the Retry-After response header when present; the retry
// engine honors it verbatim.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
	RetryAfter string // seconds or HTTP-date, exactly as received
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error (status %d, type %s): %s",
			e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s",
		e.Provider, e.StatusCode, e.Message)
}
