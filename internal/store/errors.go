package store

import (
	"errors"
	"fmt"
)

// The error taxonomy surfaced to callers. All four represent caller-side or
// input-side faults and are never retried internally.
var (
	// ErrUnauthorized means the presented API key matches no account.
	ErrUnauthorized = errors.New("unknown api key")

	// ErrForbidden means the principal is valid but lacks rights over the
	// requested plot.
	ErrForbidden = errors.New("access to plot denied")

	// ErrNotFound means the requested plot, instrument or share token does
	// not exist. Malformed and unknown share tokens are deliberately not
	// distinguished.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint rejected the write, e.g. two
	// racing attempts to share the same plot.
	ErrConflict = errors.New("already exists")
)

// ValidationError rejects a malformed request. For ingestion batches Index
// identifies the offending element; other uses set Index to -1.
type ValidationError struct {
	Index  int
	Reason error
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid reading at index %d: %v", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid request: %v", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// IsValidation reports whether err is a batch validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
