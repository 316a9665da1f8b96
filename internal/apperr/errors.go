// Package apperr defines the sentinel and typed errors shared across the
// media pipeline. Callers match them with errors.Is / errors.As; the handler
// layer owns the translation to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers malformed or missing request fields.
	ErrValidation = errors.New("validation error")

	// ErrUnsupportedMediaType is returned when classification rejects the
	// declared content type.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated is returned for anonymous callers on operations
	// that require an identity.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrPermissionDenied is the match target for PermissionError.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUploadSession covers unknown, expired or already-finalized upload
	// sessions.
	ErrUploadSession = errors.New("upload session not found or already finalized")

	// ErrIncompleteParts is returned when a multipart completion omits a
	// part the store has acknowledged, or lists a part it never received.
	ErrIncompleteParts = errors.New("incomplete part list")

	// ErrChecksumMismatch is returned when a supplied part eTag disagrees
	// with the one recorded at upload time.
	ErrChecksumMismatch = errors.New("part checksum mismatch")

	// ErrInvalidState is the match target for StateError.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrDependencyUnavailable covers unreachable collaborators (broker,
	// blob store, social graph).
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// PermissionError carries the human-readable denial reason so clients can
// display it. It matches ErrPermissionDenied under errors.Is.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// Denied builds a PermissionError with the given reason.
func Denied(reason string) error { return &PermissionError{Reason: reason} }

// StateError reports an illegal state-machine transition, e.g. reprocessing
// an item that is not in a terminal failure state. It matches ErrInvalidState
// under errors.Is.
type StateError struct {
	Op      string
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.Current)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
