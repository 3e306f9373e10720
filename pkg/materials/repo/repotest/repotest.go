// Package repotest holds the behaviour every materials.Repository must share.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
)

// Factory returns a fresh, empty repository for one subtest.
type Factory func(t *testing.T) materials.Repository

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func record(t materials.Type, course uuid.UUID, parent *uuid.UUID, offset int) *materials.Record {
	return &materials.Record{
		ID:       uuid.New(),
		Type:     t,
		CourseID: course,
		ParentID: parent,
		OwnerID:  uuid.New(),
		Name:     string(t),
		AddTime:  baseTime.Add(time.Duration(offset) * time.Minute),
	}
}

// Run exercises the repository contract.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := record(materials.TypeFile, uuid.New(), nil, 0)
		rec.MimeType = "application/pdf"
		rec.SizeBytes = 42
		rec.Description = "week one slides"
		require.NoError(t, repo.CreateMaterial(ctx, rec))

		got, err := repo.GetMaterial(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, materials.TypeFile, got.Type)
		assert.Equal(t, rec.CourseID, got.CourseID)
		assert.Nil(t, got.ParentID)
		assert.Equal(t, rec.OwnerID, got.OwnerID)
		assert.Equal(t, "week one slides", got.Description)
		assert.Equal(t, "application/pdf", got.MimeType)
		assert.Equal(t, int64(42), got.SizeBytes)
		assert.True(t, rec.AddTime.Equal(got.AddTime))
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetMaterial(context.Background(), uuid.New())
		assert.True(t, errors.Is(err, materials.ErrNotFound))
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := record(materials.TypeLink, uuid.New(), nil, 0)
		require.NoError(t, repo.CreateMaterial(ctx, rec))
		err := repo.CreateMaterial(ctx, rec)
		assert.True(t, errors.Is(err, materials.ErrDuplicateConstraint))
	})

	t.Run("CreateWithMissingParent", func(t *testing.T) {
		repo := newRepo(t)
		missing := uuid.New()
		err := repo.CreateMaterial(context.Background(), record(materials.TypeText, uuid.New(), &missing, 0))
		assert.True(t, errors.Is(err, materials.ErrInvalidParent))
	})

	t.Run("UpdateKeepsType", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := record(materials.TypeLink, uuid.New(), nil, 0)
		require.NoError(t, repo.CreateMaterial(ctx, rec))

		changed := rec.Clone()
		changed.Type = materials.TypeFolder
		changed.Name = "renamed"
		changed.URI = "https://example.org"
		require.NoError(t, repo.UpdateMaterial(ctx, changed))

		got, err := repo.GetMaterial(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, materials.TypeLink, got.Type)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, "https://example.org", got.URI)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.UpdateMaterial(context.Background(), record(materials.TypeLink, uuid.New(), nil, 0))
		assert.True(t, errors.Is(err, materials.ErrNotFound))
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := record(materials.TypeText, uuid.New(), nil, 0)
		require.NoError(t, repo.CreateMaterial(ctx, rec))

		existed, err := repo.DeleteMaterial(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = repo.DeleteMaterial(ctx, rec.ID)
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("DeleteParentWithChildren", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		course := uuid.New()

		folder := record(materials.TypeFolder, course, nil, 0)
		require.NoError(t, repo.CreateMaterial(ctx, folder))
		require.NoError(t, repo.CreateMaterial(ctx, record(materials.TypeFile, course, &folder.ID, 1)))

		_, err := repo.DeleteMaterial(ctx, folder.ID)
		assert.True(t, errors.Is(err, materials.ErrInvalidParent))

		_, err = repo.GetMaterial(ctx, folder.ID)
		assert.NoError(t, err)
	})

	t.Run("ListChildren", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		course := uuid.New()

		folder := record(materials.TypeFolder, course, nil, 0)
		require.NoError(t, repo.CreateMaterial(ctx, folder))
		second := record(materials.TypeText, course, &folder.ID, 2)
		first := record(materials.TypeFile, course, &folder.ID, 1)
		require.NoError(t, repo.CreateMaterial(ctx, second))
		require.NoError(t, repo.CreateMaterial(ctx, first))
		require.NoError(t, repo.CreateMaterial(ctx, record(materials.TypeLink, uuid.New(), nil, 3)))

		children, err := repo.ListChildren(ctx, course, &folder.ID)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, first.ID, children[0].ID)
		assert.Equal(t, second.ID, children[1].ID)

		roots, err := repo.ListChildren(ctx, course, nil)
		require.NoError(t, err)
		require.Len(t, roots, 1)
		assert.Equal(t, folder.ID, roots[0].ID)

		ids, err := repo.ChildIDs(ctx, folder.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)

		ids, err = repo.ChildIDs(ctx, first.ID)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("MoveUpdatesChildren", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		course := uuid.New()

		a := record(materials.TypeFolder, course, nil, 0)
		b := record(materials.TypeFolder, course, nil, 1)
		file := record(materials.TypeFile, course, &a.ID, 2)
		for _, rec := range []*materials.Record{a, b, file} {
			require.NoError(t, repo.CreateMaterial(ctx, rec))
		}

		moved := file.Clone()
		moved.ParentID = &b.ID
		require.NoError(t, repo.UpdateMaterial(ctx, moved))

		ids, err := repo.ChildIDs(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = repo.ChildIDs(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{file.ID}, ids)
	})

	t.Run("Ancestors", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		course := uuid.New()

		root := record(materials.TypeFolder, course, nil, 0)
		mid := record(materials.TypeFolder, course, &root.ID, 1)
		leaf := record(materials.TypeFile, course, &mid.ID, 2)
		for _, rec := range []*materials.Record{root, mid, leaf} {
			require.NoError(t, repo.CreateMaterial(ctx, rec))
		}

		ancestors, err := repo.Ancestors(ctx, leaf.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{mid.ID, root.ID}, ancestors)

		ancestors, err = repo.Ancestors(ctx, root.ID)
		require.NoError(t, err)
		assert.Empty(t, ancestors)

		_, err = repo.Ancestors(ctx, uuid.New())
		assert.True(t, errors.Is(err, materials.ErrNotFound))
	})

	t.Run("ListPendingLegacy", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		course := uuid.New()

		later := record(materials.TypeFile, course, nil, 5)
		later.URI = "legacy://b"
		earlier := record(materials.TypeFile, course, nil, 1)
		earlier.URI = "legacy://a"
		migrated := record(materials.TypeFile, course, nil, 0)
		link := record(materials.TypeLink, course, nil, 0)
		link.URI = "https://example.org"
		for _, rec := range []*materials.Record{later, earlier, migrated, link} {
			require.NoError(t, repo.CreateMaterial(ctx, rec))
		}

		pending, err := repo.ListPendingLegacy(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, earlier.ID, pending[0].ID)
		assert.Equal(t, later.ID, pending[1].ID)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := record(materials.TypeText, uuid.New(), nil, 0)
		require.NoError(t, repo.CreateMaterial(ctx, rec))
		rec.Name = "changed after insert"

		got, err := repo.GetMaterial(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "text", got.Name)

		got.Name = "changed after read"
		again, err := repo.GetMaterial(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "text", again.Name)
	})
}
