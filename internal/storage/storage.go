package storage

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the byte-oriented store originals and derivatives live in. It
// has no knowledge of jobs or files above the byte level. Implementations
// are selected once at process start and injected; there is no process-wide
// backend variable.
//
// Every key is a deterministic function of (owner, file id, kind), so writes
// are overwrites and re-running a pipeline stage never orphans data.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns ErrNotFound (possibly wrapped) when no object exists at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is idempotent: deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ErrNotFound is returned by Get for keys with no stored object.
var ErrNotFound = errors.New("object not found")

// TransientError marks failures worth retrying (network, timeouts, busy
// disks). The caller, not the backend, decides how often to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient storage error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks failures no retry will fix (invalid key, permissions,
// quota). Jobs hitting one fail immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent storage error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

func transient(err error) error { return &TransientError{Err: err} }
func permanent(err error) error { return &PermanentError{Err: err} }
