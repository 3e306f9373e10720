package materials

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Create constructs a transient material of the given variant.
func (s *Store) Create(t Type) (*Material, error) {
	if !t.IsValid() {
		return nil, &MaterialError{Op: "create", Err: fmt.Errorf("%w: %q", ErrInvalidVariant, string(t))}
	}
	return &Material{store: s, rec: Record{Type: t}}, nil
}

// Load returns an unloaded reference to id. Existence is checked by
// Ref.EnsureLoaded.
func (s *Store) Load(id uuid.UUID) *Ref {
	return &Ref{store: s, id: id}
}

// LoadByTypeHint returns an unloaded reference when the caller already knows
// the persisted type column. The hint is validated here and compared with the
// row by Ref.EnsureLoaded, which still reads the row: it does not save the
// round trip. Callers holding the full row use Hydrate instead.
func (s *Store) LoadByTypeHint(id uuid.UUID, typeField string) (*Ref, error) {
	t, err := ParseType(typeField)
	if err != nil {
		return nil, &MaterialError{ID: id, Op: "load", Err: err}
	}
	return &Ref{store: s, id: id, typeHint: t}, nil
}

// Hydrate builds a loaded material from a row returned by the repository,
// without another round trip.
func (s *Store) Hydrate(rec *Record) (*Material, error) {
	if rec == nil {
		return nil, errors.New("record is nil")
	}
	if !rec.Type.IsValid() {
		return nil, &MaterialError{ID: rec.ID, Op: "hydrate", Err: fmt.Errorf("%w: %q", ErrInvalidVariant, string(rec.Type))}
	}
	return &Material{store: s, rec: *rec.Clone(), persisted: true}, nil
}

// Ref is a material known only by id. Metadata is fetched once by EnsureLoaded
// and cached for the lifetime of the Ref; content is never loaded eagerly.
type Ref struct {
	store    *Store
	id       uuid.UUID
	typeHint Type
	material *Material
	err      error
}

// ID returns the referenced id.
func (r *Ref) ID() uuid.UUID {
	return r.id
}

// TypeHint returns the type supplied by LoadByTypeHint, if any.
func (r *Ref) TypeHint() (Type, bool) {
	return r.typeHint, r.typeHint != ""
}

// IsLoaded reports whether metadata has been fetched successfully.
func (r *Ref) IsLoaded() bool {
	return r.material != nil
}

// EnsureLoaded fetches the metadata row on first call and returns the loaded
// material. A missing row yields ErrNotFound, which is cached like a success;
// storage failures are not cached so a later call may retry.
func (r *Ref) EnsureLoaded(ctx context.Context) (*Material, error) {
	if r.material != nil || r.err != nil {
		return r.material, r.err
	}

	rec, err := r.store.repo.GetMaterial(ctx, r.id)
	if err != nil {
		err = &MaterialError{ID: r.id, Op: "load", Err: err}
		if errors.Is(err, ErrNotFound) {
			r.err = err
		}
		return nil, err
	}

	if r.typeHint != "" && rec.Type != r.typeHint {
		r.err = &MaterialError{ID: r.id, Op: "load", Err: fmt.Errorf("%w: row is %s, expected %s", ErrInvalidVariant, rec.Type, r.typeHint)}
		return nil, r.err
	}

	m, err := r.store.Hydrate(rec)
	if err != nil {
		r.err = err
		return nil, err
	}
	r.material = m
	return m, nil
}
