// Package errdefs defines the error kinds used across the build core.
//
// Every kind is a distinguishable error created with the matching
// constructor and recoverable with the matching Is function via
// errors.As, following the same wrap-and-unwrap shape as buildkit's own
// solver/errdefs package.
package errdefs

import (
	"fmt"

	"github.com/pkg/errors"
)

type notFoundError struct {
	error
	kind string
	id   string
}

func (e *notFoundError) Unwrap() error { return e.error }

// NotFound wraps err as a missing-entity error for the given kind/id pair
// (e.g. "snapshot", "sha256:...").
func NotFound(kind, id string, err error) error {
	if err == nil {
		err = errors.Errorf("%s %s: not found", kind, id)
	}
	return &notFoundError{error: err, kind: kind, id: id}
}

// IsNotFound reports whether err (or any error it wraps) is a NotFound error.
func IsNotFound(err error) bool {
	var e *notFoundError
	return errors.As(err, &e)
}

type existsError struct {
	error
	kind string
	id   string
}

func (e *existsError) Unwrap() error { return e.error }

// Exists wraps err as a duplicate-entity error.
func Exists(kind, id string, err error) error {
	if err == nil {
		err = errors.Errorf("%s %s: already exists", kind, id)
	}
	return &existsError{error: err, kind: kind, id: id}
}

// IsExists reports whether err is an Exists error.
func IsExists(err error) bool {
	var e *existsError
	return errors.As(err, &e)
}

type invalidStateError struct {
	error
	from, to string
}

func (e *invalidStateError) Unwrap() error { return e.error }

// InvalidState reports an illegal state transition or an operation issued
// against a snapshot or cache entry in the wrong state.
func InvalidState(from, to string) error {
	return &invalidStateError{
		error: errors.Errorf("invalid transition from %s to %s", from, to),
		from:  from, to: to,
	}
}

// IsInvalidState reports whether err is an InvalidState error.
func IsInvalidState(err error) bool {
	var e *invalidStateError
	return errors.As(err, &e)
}

type invalidFormatError struct {
	error
	value string
}

func (e *invalidFormatError) Unwrap() error { return e.error }

// InvalidFormat wraps a parse failure over the given raw value (DiffKey
// strings, malformed manifests, ...).
func InvalidFormat(value string, err error) error {
	if err == nil {
		err = errors.Errorf("invalid format: %q", value)
	}
	return &invalidFormatError{error: err, value: value}
}

// IsInvalidFormat reports whether err is an InvalidFormat error.
func IsInvalidFormat(err error) bool {
	var e *invalidFormatError
	return errors.As(err, &e)
}

type storageFailureError struct {
	error
	op string
}

func (e *storageFailureError) Unwrap() error { return e.error }

// StorageFailure wraps a content-store or index I/O error.
func StorageFailure(op string, err error) error {
	return &storageFailureError{error: errors.Wrapf(err, "storage failure during %s", op), op: op}
}

// IsStorageFailure reports whether err is a StorageFailure error.
func IsStorageFailure(err error) bool {
	var e *storageFailureError
	return errors.As(err, &e)
}

// EncodingFailed wraps an unexpected UTF-8/serialization failure over an
// internally-controlled string. Reaching this in practice is a bug.
func EncodingFailed(context string, err error) error {
	return &encodingFailedError{error: errors.Wrapf(err, "encoding failed: %s", context), context: context}
}

type encodingFailedError struct {
	error
	context string
}

func (e *encodingFailedError) Unwrap() error { return e.error }

// IsEncodingFailed reports whether err is an EncodingFailed error.
func IsEncodingFailed(err error) bool {
	var e *encodingFailedError
	return errors.As(err, &e)
}

// ExecutionFailed carries executor diagnostics (§7: environment snapshot,
// working directory, recent log lines) alongside the underlying error.
type ExecutionFailed struct {
	error
	OperationID      string
	Environment      map[string]string
	WorkingDirectory string
	RecentLog        []string
}

func (e *ExecutionFailed) Unwrap() error { return e.error }

func (e *ExecutionFailed) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.OperationID, e.error.Error())
}

// WrapExecutionFailed attaches diagnostics to err and returns an
// *ExecutionFailed. Calling with a nil err is a programmer error and panics,
// mirroring the teacher's assumption that error-wrapping helpers are only
// ever invoked on the error path.
func WrapExecutionFailed(err error, operationID string, environment map[string]string, workingDirectory string, recentLog []string) error {
	if err == nil {
		panic("errdefs: WrapExecutionFailed called with nil error")
	}
	return &ExecutionFailed{
		error:            err,
		OperationID:      operationID,
		Environment:      environment,
		WorkingDirectory: workingDirectory,
		RecentLog:        recentLog,
	}
}

// IsExecutionFailed reports whether err is an ExecutionFailed error.
func IsExecutionFailed(err error) bool {
	var e *ExecutionFailed
	return errors.As(err, &e)
}

type unsupportedOperationError struct {
	error
	kind string
}

func (e *unsupportedOperationError) Unwrap() error { return e.error }

// UnsupportedOperation reports that an executor was dispatched an operation
// kind it does not claim.
func UnsupportedOperation(kind string) error {
	return &unsupportedOperationError{error: errors.Errorf("unsupported operation kind %q", kind), kind: kind}
}

// IsUnsupportedOperation reports whether err is an UnsupportedOperation error.
func IsUnsupportedOperation(err error) bool {
	var e *unsupportedOperationError
	return errors.As(err, &e)
}
