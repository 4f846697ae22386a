// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"sort"
	"strings"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing, invalid, expired or revoked session token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidOTP covers wrong, expired and already consumed codes alike.
	ErrInvalidOTP = errors.New("invalid otp")

	// ErrAlreadyVerified indicates the account email is verified already.
	ErrAlreadyVerified = errors.New("account already verified")

	// ErrNoToken indicates that neither cookie nor bearer header carried a token.
	ErrNoToken = errors.New("no token provided")

	// ErrWrongPassword indicates the current password did not match on password change.
	ErrWrongPassword = errors.New("invalid old password")

	// ErrValidation indicates malformed input; see ValidationError for field details.
	ErrValidation = errors.New("validation failed")
)

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidation builds a ValidationError with a single field message.
func NewValidation(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return ErrValidation }
