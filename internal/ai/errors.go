package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindAuthentication ErrorKind = "authentication"
	KindRateLimited    ErrorKind = "rate_limited"
	KindUnavailable    ErrorKind = "unavailable"
	KindUnknown        ErrorKind = "unknown"
)

const (
	CodeInvalidAPIKey = "invalid_api_key"
	CodeMissingAPIKey = "missing_api_key"
)

// ProviderError is the single error shape every provider adapter returns for
// upstream failures.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" provider error (")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ", status %d", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(", code ")
		b.WriteString(e.Code)
	}
	b.WriteString(")")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindUnavailable
}

// Classify maps a provider-reported status and error code to a kind. The code
// wins over the status: OpenAI reports a bad key as 401 + invalid_api_key.
func Classify(statusCode int, code string) ErrorKind {
	switch normalizeCode(code) {
	case CodeInvalidAPIKey, CodeMissingAPIKey:
		return KindConfiguration
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuthentication
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode >= http.StatusInternalServerError:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

func newProviderError(provider string, statusCode int, code, message string, err error) *ProviderError {
	code = normalizeCode(code)
	return &ProviderError{
		Provider:   provider,
		Kind:       Classify(statusCode, code),
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

func missingKeyError(provider string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindConfiguration,
		Code:     CodeMissingAPIKey,
		Message:  "api key is not configured",
	}
}

// transportError wraps failures that never produced an upstream response.
func transportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindUnavailable,
		Message:  err.Error(),
		Err:      err,
	}
}

// KindOf extracts the kind from any error returned by a provider.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	return KindUnknown
}

// IsRetryable reports whether a failed call may be retried after backoff.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindRateLimited || k == KindUnavailable
}

func normalizeCode(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	switch c {
	case "invalidapikey", "invalid-api-key", "api_key_invalid":
		return CodeInvalidAPIKey
	}
	return c
}
