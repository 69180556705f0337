package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error types for the wallet API and the refresh cycle.

// ErrorKind classifies an APIError.
type ErrorKind string

const (
	KindStatus      ErrorKind = "status"
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindMalformed   ErrorKind = "malformed"
	KindUnavailable ErrorKind = "unavailable"
)

// APIError is a recoverable upstream failure.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("API request failed with status %d", e.StatusCode)
	case KindNetwork:
		return fmt.Sprintf("network error: %v", e.Err)
	case KindTimeout:
		return "request timed out"
	case KindMalformed:
		if e.Err != nil {
			return fmt.Sprintf("unexpected API response format: %v", e.Err)
		}
		return "unexpected API response format"
	case KindUnavailable:
		return "wallet API unavailable: circuit open"
	}
	return fmt.Sprintf("API error [%s]: %v", e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AuthError means the bearer token was rejected (HTTP 401).
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized: invalid or expired token"
}

// RateLimitError is returned on HTTP 429. RetryAfter is nil when the server
// sent no usable Retry-After header.
type RateLimitError struct {
	RetryAfter *time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("rate limit exceeded (retry after %s)", *e.RetryAfter)
	}
	return "rate limit exceeded"
}

// ============================================================
// Refresh outcomes
// ============================================================

// ErrRefreshInFlight is returned when a refresh is triggered while another
// one is running. The trigger is dropped.
var ErrRefreshInFlight = errors.New("refresh already in progress")

// ErrNoSnapshot is returned by readers before the first commit.
var ErrNoSnapshot = errors.New("no snapshot committed yet")

// ReauthRequiredError means the current credential was rejected and must be
// replaced before refreshes can succeed again.
type ReauthRequiredError struct {
	Err error
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *ReauthRequiredError) Unwrap() error {
	return e.Err
}

// UpdateFailedError is a recoverable refresh failure. The previous snapshot
// stays served.
type UpdateFailedError struct {
	Message string
	Err     error
}

func (e *UpdateFailedError) Error() string {
	return e.Message
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// ErrValidation indicates bad input on the hosting surface.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates a rejected admin token on the hosting surface.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Credential validation outcomes.
const (
	CodeInvalidAuth   = "invalid_auth"
	CodeCannotConnect = "cannot_connect"
)

// CredentialError is a failed credential check, coded the way a setup form
// reports it.
type CredentialError struct {
	Code string
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}
