package tessera

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when the Engine was not built through Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidCredentials is the single generic authentication failure. It
	// covers unknown email, wrong password, and inactive account alike so the
	// response never reveals which one occurred.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation is the base error for malformed input, rejected before
	// any state change.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is the base error for uniqueness violations.
	ErrConflict = errors.New("conflict")
	// ErrEmailTaken is returned when the email already exists in the project.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", ErrConflict)
	// ErrUsernameTaken is returned when a non-empty username already exists in the project.
	ErrUsernameTaken = fmt.Errorf("%w: username already taken", ErrConflict)
	// ErrNotFound is returned when the addressed user or project does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is the base error for throttled operations; the concrete
	// value is a ThrottledError carrying the retry-after hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenInvalid is returned for unknown, malformed, or purpose-mismatched
	// side-channel and access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for an expired-but-unused side-channel token.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenUsed is returned when a side-channel token was already redeemed.
	ErrTokenUsed = errors.New("token already used")
	// ErrRefreshInvalid is returned for unknown or garbage refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already-consumed refresh token is
	// redeemed again. Callers should treat it as a possible token theft.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrUnavailable is returned for transient downstream failures that are
	// safe to retry. A timed-out operation reports ErrUnavailable rather than
	// assuming success.
	ErrUnavailable = errors.New("backend unavailable")
)

// ValidationError carries the offending field so the caller can react
// specifically. It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap links ValidationError into the ErrValidation chain.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ThrottledError carries the retry-after hint for a rate-limited operation.
// It matches ErrRateLimited under errors.Is.
type ThrottledError struct {
	Operation  Operation
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limited: %s: retry after %s", e.Operation, e.RetryAfter)
}

// Unwrap links ThrottledError into the ErrRateLimited chain.
func (e *ThrottledError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the retry-after hint from a throttled error, or zero
// when err is not a ThrottledError.
func RetryAfter(err error) time.Duration {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return throttled.RetryAfter
	}
	return 0
}
