package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/course-materials/pkg/materials"
)

// Repository implements materials.Repository using in-memory storage
type Repository struct {
	mu        sync.RWMutex
	materials map[uuid.UUID]*materials.Record
	children  map[uuid.UUID]map[uuid.UUID]struct{} // parent_id -> child ids
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		materials: make(map[uuid.UUID]*materials.Record),
		children:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (r *Repository) CreateMaterial(ctx context.Context, rec *materials.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.materials[rec.ID]; exists {
		return fmt.Errorf("material %s: %w", rec.ID, materials.ErrDuplicateConstraint)
	}
	if rec.ParentID != nil {
		if _, exists := r.materials[*rec.ParentID]; !exists {
			return fmt.Errorf("parent %s does not exist: %w", *rec.ParentID, materials.ErrInvalidParent)
		}
	}

	r.materials[rec.ID] = rec.Clone()
	r.link(rec.ID, rec.ParentID)
	return nil
}

func (r *Repository) GetMaterial(ctx context.Context, id uuid.UUID) (*materials.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.materials[id]
	if !exists {
		return nil, fmt.Errorf("material %s: %w", id, materials.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *Repository) UpdateMaterial(ctx context.Context, rec *materials.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.materials[rec.ID]
	if !exists {
		return fmt.Errorf("material %s: %w", rec.ID, materials.ErrNotFound)
	}
	if rec.ParentID != nil {
		if _, exists := r.materials[*rec.ParentID]; !exists {
			return fmt.Errorf("parent %s does not exist: %w", *rec.ParentID, materials.ErrInvalidParent)
		}
	}

	updated := rec.Clone()
	// The type of a persisted row never changes.
	updated.Type = current.Type

	r.unlink(rec.ID, current.ParentID)
	r.materials[rec.ID] = updated
	r.link(rec.ID, updated.ParentID)
	return nil
}

func (r *Repository) DeleteMaterial(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.materials[id]
	if !exists {
		return false, nil
	}
	if len(r.children[id]) > 0 {
		return false, fmt.Errorf("material %s still has children: %w", id, materials.ErrInvalidParent)
	}
	r.unlink(id, rec.ParentID)
	delete(r.materials, id)
	return true, nil
}

func (r *Repository) ListChildren(ctx context.Context, courseID uuid.UUID, parentID *uuid.UUID) ([]*materials.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*materials.Record
	for _, rec := range r.materials {
		if rec.CourseID != courseID || !sameParent(rec.ParentID, parentID) {
			continue
		}
		result = append(result, rec.Clone())
	}
	sortRecords(result)
	return result, nil
}

func (r *Repository) ChildIDs(ctx context.Context, parentID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.children[parentID]))
	for id := range r.children[parentID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *Repository) Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.materials[id]
	if !exists {
		return nil, fmt.Errorf("material %s: %w", id, materials.ErrNotFound)
	}

	var ancestors []uuid.UUID
	seen := map[uuid.UUID]bool{id: true}
	for rec.ParentID != nil && !seen[*rec.ParentID] {
		parentID := *rec.ParentID
		seen[parentID] = true
		ancestors = append(ancestors, parentID)
		if rec, exists = r.materials[parentID]; !exists {
			break
		}
	}
	return ancestors, nil
}

func (r *Repository) ListPendingLegacy(ctx context.Context) ([]*materials.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*materials.Record
	for _, rec := range r.materials {
		if rec.IsPendingLegacyImport() {
			result = append(result, rec.Clone())
		}
	}
	sortRecords(result)
	return result, nil
}

func (r *Repository) link(id uuid.UUID, parentID *uuid.UUID) {
	if parentID == nil {
		return
	}
	if r.children[*parentID] == nil {
		r.children[*parentID] = make(map[uuid.UUID]struct{})
	}
	r.children[*parentID][id] = struct{}{}
}

func (r *Repository) unlink(id uuid.UUID, parentID *uuid.UUID) {
	if parentID == nil {
		return
	}
	delete(r.children[*parentID], id)
	if len(r.children[*parentID]) == 0 {
		delete(r.children, *parentID)
	}
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// sortRecords orders by add time, then id, matching the Postgres repository.
func sortRecords(recs []*materials.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].AddTime.Equal(recs[j].AddTime) {
			return recs[i].AddTime.Before(recs[j].AddTime)
		}
		return recs[i].ID.String() < recs[j].ID.String()
	})
}
