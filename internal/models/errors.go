package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidImage is returned when image bytes cannot be decoded.
	ErrInvalidImage = errors.New("invalid image data")

	// ErrUnsupportedFormat is returned for decodable but unsupported image formats.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrInvalidFingerprint is returned when a stored fingerprint cannot be parsed.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")

	// ErrTaskAlreadyRunning is returned when starting a scan task that is not queued.
	ErrTaskAlreadyRunning = errors.New("scan task already started")

	// ErrTaskNotCancellable is returned when cancelling a task in a terminal state.
	ErrTaskNotCancellable = errors.New("scan task is not cancellable")

	// ErrMixedInfringer is returned when violations grouped into one case
	// belong to different sellers or platforms.
	ErrMixedInfringer = errors.New("violations belong to different infringers")
)

// ValidationError reports one or more violated input constraints. All
// constraints are checked before returning so the caller sees the full set.
type ValidationError struct {
	Constraints []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Constraints, "; ")
}

// Add records a violated constraint.
func (e *ValidationError) Add(format string, args ...interface{}) {
	e.Constraints = append(e.Constraints, fmt.Sprintf(format, args...))
}

// Err returns the error if any constraint was violated, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Constraints) == 0 {
		return nil
	}
	return e
}

// IllegalTransitionError reports a case status change outside the allowed
// state machine.
type IllegalTransitionError struct {
	From CaseStatus
	To   CaseStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal case transition from %s to %s", e.From, e.To)
}

// TransientFetchError wraps a retryable listing-source failure. The hunter
// retries these with backoff; anything else fails the platform immediately.
type TransientFetchError struct {
	Platform Platform
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error on %s: %v", e.Platform, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// PlatformFailure records a platform whose scan failed after retries were
// exhausted. It is recorded on the task, not returned to the caller: one
// platform failing never fails the whole scan.
type PlatformFailure struct {
	Platform Platform `json:"platform"`
	Message  string   `json:"message"`
	Attempts int      `json:"attempts"`
}

func (e *PlatformFailure) Error() string {
	return fmt.Sprintf("platform %s failed after %d attempts: %s", e.Platform, e.Attempts, e.Message)
}
