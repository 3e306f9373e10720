package materials_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	repomemory "github.com/tendant/course-materials/pkg/materials/repo/memory"
	storagememory "github.com/tendant/course-materials/pkg/materials/storage/memory"
)

var fixedNow = time.Date(2024, 9, 2, 8, 30, 0, 0, time.UTC)

type fixture struct {
	store   *materials.Store
	repo    *repomemory.Repository
	backend *storagememory.Backend
	course  uuid.UUID
}

func newFixture(t *testing.T, contentOpts ...materials.ContentOption) *fixture {
	t.Helper()
	repo := repomemory.New()
	backend := storagememory.New()
	store, err := materials.New(
		materials.WithRepository(repo),
		materials.WithContentStore(materials.NewContentStore(backend, contentOpts...)),
		materials.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	return &fixture{store: store, repo: repo, backend: backend, course: uuid.New()}
}

// save creates and saves a material of type typ named name under parent.
func (f *fixture) save(t *testing.T, typ materials.Type, name string, parent *materials.Material) *materials.Material {
	t.Helper()
	ctx := context.Background()
	m, err := f.store.Create(typ)
	require.NoError(t, err)
	m.SetName(name)
	require.NoError(t, m.SetCourseID(f.course))
	require.NoError(t, m.SetParent(ctx, parent))
	require.NoError(t, m.Save(ctx))
	return m
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}
