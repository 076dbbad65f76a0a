package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the gateway domain.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrKeyRevoked     = errors.New("api key already revoked")
	ErrProviderFailed = errors.New("provider route failed")
)

// Error codes surfaced on the wire.
const (
	CodeMissingAPIKey       = "missing_api_key"
	CodeInvalidAPIKey       = "invalid_api_key"
	CodeMissingScope        = "missing_scope"
	CodeModelNotFound       = "model_not_found"
	CodeUnsupportedRequest  = "unsupported_request"
	CodeUserRequestQuota    = "user_daily_request_quota"
	CodeUserInputTokens     = "user_daily_input_token_quota"
	CodeUserOutputTokens    = "user_daily_output_token_quota"
	CodeOrgRequestQuota     = "org_daily_request_quota"
	CodeOrgInputTokens      = "org_daily_input_token_quota"
	CodeOrgOutputTokens     = "org_daily_output_token_quota"
	CodeUserHeavyQuota      = "user_daily_heavy_quota"
	CodeOrgHeavyQuota       = "org_daily_heavy_quota"
	CodeQueueWait           = "queue_wait"
	CodeQueueFull           = "queue_full"
	CodeProviderRouteFailed = "provider_route_failed"
)

// GatewayError is a request-terminating error with enough structure to render
// the OpenAI error envelope and the Retry-After header.
type GatewayError struct {
	Status        int    // HTTP status
	Code          string // machine-readable error code
	Message       string
	Param         string // offending request parameter, optional
	RetryAfterSec int    // 0 = no retry hint
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Type returns the OpenAI-style error type for the envelope.
func (e *GatewayError) Type() string {
	if e.Status >= 500 {
		return "server_error"
	}
	return "invalid_request_error"
}

// NewError constructs a GatewayError.
func NewError(status int, code, message string) *GatewayError {
	return &GatewayError{Status: status, Code: code, Message: message}
}

// WithParam attaches the offending parameter name.
func (e *GatewayError) WithParam(param string) *GatewayError {
	e.Param = param
	return e
}

// WithRetryAfter attaches a retry hint in seconds.
func (e *GatewayError) WithRetryAfter(sec int) *GatewayError {
	e.RetryAfterSec = sec
	return e
}

// AsGatewayError extracts a *GatewayError from err, wrapping unknown errors
// as an opaque 500 so internals never leak onto the wire.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewError(http.StatusInternalServerError, "internal_error", "internal server error")
}
