package materials

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// DeleteTree removes the material id together with every material whose
// parent chain passes through it, and all their content. It returns the number
// of removed rows, or ErrNotFound when id itself does not exist.
//
// Descendants are removed before their ancestors so that an interrupted run
// never leaves a child pointing at a parent row that is already gone;
// re-running the delete finishes the job.
func (s *Store) DeleteTree(ctx context.Context, id uuid.UUID) (int, error) {
	root, err := s.repo.GetMaterial(ctx, id)
	if err != nil {
		return 0, &MaterialError{ID: id, Op: "delete_tree", Err: err}
	}

	ids, err := s.collect(ctx, root.ID, root.Type)
	if err != nil {
		return 0, &MaterialError{ID: id, Op: "delete_tree", Err: err}
	}

	removed, err := s.cascade(ctx, ids)
	if err != nil {
		return removed, &MaterialError{ID: id, Op: "delete_tree", Err: err}
	}

	s.logger.Info("Material tree deleted", "material_id", id, "removed", removed)
	return removed, nil
}

// Descendants returns the ids of every material below id, in breadth-first
// order.
func (s *Store) Descendants(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	root, err := s.repo.GetMaterial(ctx, id)
	if err != nil {
		return nil, &MaterialError{ID: id, Op: "descendants", Err: err}
	}
	ids, err := s.collect(ctx, root.ID, root.Type)
	if err != nil {
		return nil, &MaterialError{ID: id, Op: "descendants", Err: err}
	}
	return ids[1:], nil
}

// collect walks the tree below root one level at a time with an explicit
// worklist and returns root followed by its descendants in breadth-first order.
func (s *Store) collect(ctx context.Context, root uuid.UUID, rootType Type) ([]uuid.UUID, error) {
	ids := []uuid.UUID{root}
	if rootType != TypeFolder {
		return ids, nil
	}

	seen := map[uuid.UUID]bool{root: true}
	for i := 0; i < len(ids); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		children, err := s.repo.ChildIDs(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if seen[child] {
				continue
			}
			seen[child] = true
			ids = append(ids, child)
		}
	}
	return ids, nil
}

// cascade deletes ids in reverse order. Ids that are already gone count as
// zero removed rows.
func (s *Store) cascade(ctx context.Context, ids []uuid.UUID) (int, error) {
	removed := 0
	for i := len(ids) - 1; i >= 0; i-- {
		existed, err := s.deleteOne(ctx, ids[i], "")
		if err != nil {
			return removed, err
		}
		if existed {
			removed++
		}
		s.logger.Debug("Material deleted", "material_id", ids[i], "existed", existed)
	}
	return removed, nil
}

// deleteOne releases the content of id, then deletes its row. t may be empty
// when the variant is unknown; content release is then attempted anyway.
func (s *Store) deleteOne(ctx context.Context, id uuid.UUID, t Type) (bool, error) {
	if t == "" || t.HasContent() {
		if err := s.content.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return false, &MaterialError{ID: id, Op: "delete_content", Err: err}
		}
	}
	existed, err := s.repo.DeleteMaterial(ctx, id)
	if err != nil {
		return false, &MaterialError{ID: id, Op: "delete", Err: err}
	}
	return existed, nil
}

// Move relocates m under parent (nil for the course root) and saves it.
// On an invalid parent nothing is persisted.
func (s *Store) Move(ctx context.Context, m *Material, parent *Material) error {
	if !m.persisted {
		return &MaterialError{Op: "move", Err: ErrNotPersisted}
	}
	previous := m.rec.ParentID
	if err := m.SetParent(ctx, parent); err != nil {
		return err
	}
	if err := m.Save(ctx); err != nil {
		m.rec.ParentID = previous
		return err
	}
	return nil
}

// Children lists the materials directly under parentID (nil for the course
// root). Rows are hydrated from the listing without further round trips.
func (s *Store) Children(ctx context.Context, courseID uuid.UUID, parentID *uuid.UUID) ([]*Material, error) {
	recs, err := s.repo.ListChildren(ctx, courseID, parentID)
	if err != nil {
		return nil, &MaterialError{Op: "list_children", Err: err}
	}
	return s.hydrateAll(recs)
}

// PendingLegacyImports lists the FILE materials still carrying a legacy URI.
func (s *Store) PendingLegacyImports(ctx context.Context) ([]*Material, error) {
	recs, err := s.repo.ListPendingLegacy(ctx)
	if err != nil {
		return nil, &MaterialError{Op: "list_pending_legacy", Err: err}
	}
	return s.hydrateAll(recs)
}

func (s *Store) hydrateAll(recs []*Record) ([]*Material, error) {
	out := make([]*Material, 0, len(recs))
	for _, rec := range recs {
		m, err := s.Hydrate(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
