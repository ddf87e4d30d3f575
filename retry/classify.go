package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aqueductlabs/aqueduct/provider"
)

// Kind is the transient-vs-terminal classification of a normalized error.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindRateLimit  Kind = "rate_limit"
	KindServer     Kind = "server"
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindUnknown    Kind = "unknown"
)

// Transient reports whether errors of this kind are worth retrying.
// Validation and auth failures never are.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindRateLimit, KindServer, KindNetwork:
		return true
	}
	return false
}

// NormalizedError is the error-normalization subsystem's view of a failure:
// a classification, a provider-specific code and the underlying cause.
type NormalizedError struct {
	Kind    Kind
	Code    string
	Context map[string]any
	Cause   error
}

func (e *NormalizedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Cause)
}

func (e *NormalizedError) Unwrap() error {
	return e.Cause
}

// Classify normalizes a raw transport or provider error. API errors are
// classified by status code, network errors by their timeout flag.
func Classify(err error) *NormalizedError {
	if err == nil {
		return nil
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return &NormalizedError{
			Kind:  classifyStatus(apiErr.StatusCode),
			Code:  apiErr.Type,
			Cause: err,
			Context: map[string]any{
				"status_code": apiErr.StatusCode,
			},
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &NormalizedError{Kind: KindTimeout, Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &NormalizedError{Kind: KindTimeout, Cause: err}
		}
		return &NormalizedError{Kind: KindNetwork, Cause: err}
	}

	return &NormalizedError{Kind: KindUnknown, Cause: err}
}

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindValidation
	}
	return KindUnknown
}
