package materials_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
)

func TestCreate(t *testing.T) {
	f := newFixture(t)

	for _, typ := range materials.Types {
		m, err := f.store.Create(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, m.Type())
		assert.False(t, m.IsPersisted())
	}

	_, err := f.store.Create(materials.Type("quiz"))
	assert.True(t, errors.Is(err, materials.ErrInvalidVariant))
}

func TestParseType(t *testing.T) {
	typ, err := materials.ParseType(" File ")
	require.NoError(t, err)
	assert.Equal(t, materials.TypeFile, typ)

	_, err = materials.ParseType("assignment")
	assert.True(t, errors.Is(err, materials.ErrInvalidVariant))
}

func TestRef_EnsureLoaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := f.save(t, materials.TypeFolder, "Week 1", nil)

	ref := f.store.Load(folder.ID())
	assert.False(t, ref.IsLoaded())
	assert.Equal(t, folder.ID(), ref.ID())

	first, err := ref.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.True(t, ref.IsLoaded())

	// Later changes to the row are not seen by a loaded Ref.
	folder.SetName("Week 1 (updated)")
	require.NoError(t, folder.Save(ctx))

	second, err := ref.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "Week 1", second.Name())
}

func TestRef_NotFoundIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.store.Load(uuid.New())
	_, err := ref.EnsureLoaded(ctx)
	assert.True(t, errors.Is(err, materials.ErrNotFound))

	var matErr *materials.MaterialError
	require.True(t, errors.As(err, &matErr))
	assert.Equal(t, ref.ID(), matErr.ID)

	_, err = ref.EnsureLoaded(ctx)
	assert.True(t, errors.Is(err, materials.ErrNotFound))
	assert.False(t, ref.IsLoaded())
}

func TestLoadByTypeHint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.save(t, materials.TypeLink, "Docs", nil)

	t.Run("Matching", func(t *testing.T) {
		ref, err := f.store.LoadByTypeHint(link.ID(), "link")
		require.NoError(t, err)
		hint, ok := ref.TypeHint()
		assert.True(t, ok)
		assert.Equal(t, materials.TypeLink, hint)

		m, err := ref.EnsureLoaded(ctx)
		require.NoError(t, err)
		assert.Equal(t, materials.TypeLink, m.Type())
	})

	t.Run("Mismatch", func(t *testing.T) {
		ref, err := f.store.LoadByTypeHint(link.ID(), "folder")
		require.NoError(t, err)
		_, err = ref.EnsureLoaded(ctx)
		assert.True(t, errors.Is(err, materials.ErrInvalidVariant))
	})

	t.Run("UnknownTag", func(t *testing.T) {
		_, err := f.store.LoadByTypeHint(link.ID(), "podcast")
		assert.True(t, errors.Is(err, materials.ErrInvalidVariant))
	})

	t.Run("NoHint", func(t *testing.T) {
		_, ok := f.store.Load(link.ID()).TypeHint()
		assert.False(t, ok)
	})
}

func TestHydrate(t *testing.T) {
	f := newFixture(t)

	rec := &materials.Record{ID: uuid.New(), Type: materials.TypeEmbed, CourseID: f.course, Name: "Clip"}
	m, err := f.store.Hydrate(rec)
	require.NoError(t, err)
	assert.True(t, m.IsPersisted())
	assert.Equal(t, rec.ID, m.ID())

	rec.Name = "mutated"
	assert.Equal(t, "Clip", m.Name())

	_, err = f.store.Hydrate(&materials.Record{ID: uuid.New(), Type: "slides"})
	assert.True(t, errors.Is(err, materials.ErrInvalidVariant))

	_, err = f.store.Hydrate(nil)
	assert.Error(t, err)
}

func TestErrors(t *testing.T) {
	cause := errors.New("connection refused")
	err := materials.NewStorageError("s3", "open", "abc", cause)

	assert.True(t, errors.Is(err, materials.ErrStorageUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "abc")

	assert.Nil(t, materials.NewStorageError("s3", "open", "abc", nil))
	assert.Equal(t, materials.ErrNotFound, materials.NewStorageError("s3", "open", "abc", materials.ErrNotFound))

	wrapped := &materials.MaterialError{Op: "save", Err: err}
	assert.True(t, errors.Is(wrapped, materials.ErrStorageUnavailable))
	assert.Contains(t, wrapped.Error(), "save")
}
