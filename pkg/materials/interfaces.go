package materials

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Repository defines the interface for material metadata persistence.
//
// Implementations return ErrNotFound for missing rows and wrap any other
// driver failure so that it matches ErrStorageUnavailable.
type Repository interface {
	// CreateMaterial inserts a new row. The record ID is assigned by the caller.
	// A ParentID that names no row fails with ErrInvalidParent.
	CreateMaterial(ctx context.Context, rec *Record) error

	// GetMaterial returns the row keyed by id.
	GetMaterial(ctx context.Context, id uuid.UUID) (*Record, error)

	// UpdateMaterial replaces the row keyed by rec.ID. The type column is never updated.
	UpdateMaterial(ctx context.Context, rec *Record) error

	// DeleteMaterial removes a single row and reports whether it existed. A row
	// that is still the parent of other rows is not removed (ErrInvalidParent).
	DeleteMaterial(ctx context.Context, id uuid.UUID) (bool, error)

	// ListChildren returns the rows directly under parentID in a course.
	// A nil parentID lists the course root.
	ListChildren(ctx context.Context, courseID uuid.UUID, parentID *uuid.UUID) ([]*Record, error)

	// ChildIDs returns the ids of the rows whose parent is parentID, in any course.
	ChildIDs(ctx context.Context, parentID uuid.UUID) ([]uuid.UUID, error)

	// Ancestors returns the parent chain of id, nearest first, excluding id itself.
	Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)

	// ListPendingLegacy returns the FILE rows whose uri column is not empty,
	// oldest first.
	ListPendingLegacy(ctx context.Context) ([]*Record, error)
}

// WriteMode selects how a chunk is applied to a staging target.
type WriteMode int

const (
	// WriteCreate creates the staging target, clearing anything already in it.
	WriteCreate WriteMode = iota
	// WriteAppend appends to the staging target created by a previous WriteCreate.
	WriteAppend
)

func (m WriteMode) String() string {
	switch m {
	case WriteCreate:
		return "create"
	case WriteAppend:
		return "append"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// StageKey identifies the shadow target of one write. The live blob of
// MaterialID is only replaced when the stage is committed.
type StageKey struct {
	MaterialID uuid.UUID
	StageID    uuid.UUID
}

func (k StageKey) String() string {
	return k.MaterialID.String() + "/" + k.StageID.String()
}

// ChunkBackend defines the interface for content storage backends.
type ChunkBackend interface {
	// Name identifies the backend in errors and logs.
	Name() string

	// WriteChunk applies data to the staging target of key. data is only
	// valid for the duration of the call.
	WriteChunk(ctx context.Context, key StageKey, data []byte, mode WriteMode) error

	// Commit atomically replaces the live blob of key.MaterialID with the staged
	// bytes and releases the staging target.
	Commit(ctx context.Context, key StageKey) error

	// Abort discards the staging target. Aborting an unknown stage is not an error.
	Abort(ctx context.Context, key StageKey) error

	// Open returns a forward-only reader over the live blob.
	Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)

	// Size returns the length of the live blob.
	Size(ctx context.Context, id uuid.UUID) (int64, error)

	// Delete removes the live blob.
	Delete(ctx context.Context, id uuid.UUID) error
}
