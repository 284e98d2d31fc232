package callmeter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors raised by the observer.
var (
	ErrInvalidConfiguration = errors.New("callmeter: invalid configuration")
	ErrInvalidArgument      = errors.New("callmeter: invalid argument")
	ErrUnknownCall          = errors.New("callmeter: unknown call")
)

// Provider error categories. Providers wrap these so that failures are
// labelled with a bounded error type.
var (
	ErrRateLimited         = errors.New("callmeter: rate limited by provider")
	ErrAuthFailed          = errors.New("callmeter: authentication failed")
	ErrInvalidRequest      = errors.New("callmeter: invalid request")
	ErrProviderUnavailable = errors.New("callmeter: provider unavailable")
	ErrModelNotFound       = errors.New("callmeter: model not found")
	ErrQuotaExceeded       = errors.New("callmeter: quota exceeded")
)

// CallError wraps a lifecycle error with the call it concerns.
type CallError struct {
	Op     string
	CallID CallID
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("callmeter: %s call=%q: %v", e.Op, string(e.CallID), e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error should not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the call can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrQuotaExceeded)
}

// Error type values for known categories.
const (
	ErrorTypeRateLimited         = "rate_limited"
	ErrorTypeAuthFailed          = "auth_failed"
	ErrorTypeInvalidRequest      = "invalid_request"
	ErrorTypeProviderUnavailable = "provider_unavailable"
	ErrorTypeModelNotFound       = "model_not_found"
	ErrorTypeQuotaExceeded       = "quota_exceeded"
	ErrorTypeCanceled            = "canceled"
	ErrorTypeTimeout             = "timeout"
)

var errorCategories = []struct {
	err  error
	name string
}{
	{ErrRateLimited, ErrorTypeRateLimited},
	{ErrAuthFailed, ErrorTypeAuthFailed},
	{ErrInvalidRequest, ErrorTypeInvalidRequest},
	{ErrProviderUnavailable, ErrorTypeProviderUnavailable},
	{ErrModelNotFound, ErrorTypeModelNotFound},
	{ErrQuotaExceeded, ErrorTypeQuotaExceeded},
	{context.Canceled, ErrorTypeCanceled},
	{context.DeadlineExceeded, ErrorTypeTimeout},
}

// ErrorType returns a low-cardinality category name for err.
//
// An error anywhere in the chain that implements ErrorType() string wins.
// Known categories come next. Anything else is named after its Go type,
// without package or pointer, which keeps the vocabulary bounded by the
// types compiled into the program.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var typed interface{ ErrorType() string }
	if errors.As(err, &typed) {
		if name := typed.ErrorType(); name != "" {
			return name
		}
	}

	for _, c := range errorCategories {
		if errors.Is(err, c.err) {
			return c.name
		}
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return "error"
}
