package materials

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrInvalidVariant indicates an unknown type tag, or an accessor used on
	// a variant that does not carry the field.
	ErrInvalidVariant = errors.New("invalid material variant")

	// ErrNotFound indicates the material or its content does not exist.
	ErrNotFound = errors.New("material not found")

	// ErrInvalidParent indicates a parent assignment that violates the tree invariants.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrStorageUnavailable indicates a failure talking to the persistence layer.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrLegacyFileMissing indicates the on-disk file of a pending import is absent.
	ErrLegacyFileMissing = errors.New("legacy file missing")

	// ErrDuplicateConstraint indicates the store rejected a row on a uniqueness rule.
	ErrDuplicateConstraint = errors.New("duplicate constraint")

	// ErrNotPersisted indicates an operation that needs an id on a transient material.
	ErrNotPersisted = errors.New("material is not persisted")

	// ErrCourseImmutable indicates an attempt to move a saved material to another course.
	ErrCourseImmutable = errors.New("course cannot change after save")
)

// MaterialError represents an error related to material operations
type MaterialError struct {
	ID  uuid.UUID
	Op  string
	Err error
}

func (e *MaterialError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("material operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("material operation %s failed for material %s: %v", e.Op, e.ID, e.Err)
}

func (e *MaterialError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure of a repository or content backend.
// It matches ErrStorageUnavailable and unwraps to the driver error.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage operation %s failed on backend %s: %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// NewStorageError wraps err as a StorageError unless it is nil or already a
// domain error that callers handle directly.
func NewStorageError(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateConstraint) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &StorageError{Backend: backend, Key: key, Op: op, Err: err}
}
