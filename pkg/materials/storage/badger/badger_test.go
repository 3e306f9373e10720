package badger_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	badgerstorage "github.com/tendant/course-materials/pkg/materials/storage/badger"
	"github.com/tendant/course-materials/pkg/materials/storage/storagetest"
)

func newBackend(t *testing.T) *badgerstorage.Backend {
	t.Helper()
	backend, err := badgerstorage.New(badgerstorage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestBadgerBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) materials.ChunkBackend {
		return newBackend(t)
	})
}

func TestBadgerBackend_RequiresDir(t *testing.T) {
	_, err := badgerstorage.New(badgerstorage.Config{})
	assert.Error(t, err)
}

func TestBadgerBackend_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	id := uuid.New()

	backend, err := badgerstorage.New(badgerstorage.Config{Dir: dir})
	require.NoError(t, err)
	_, err = materials.NewContentStore(backend).WriteFrom(ctx, id, strings.NewReader("persisted"))
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = badgerstorage.New(badgerstorage.Config{Dir: dir})
	require.NoError(t, err)
	defer backend.Close()

	rc, err := backend.Open(ctx, id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}

func TestBadgerBackend_ReaderKeepsSnapshot(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	store := materials.NewContentStore(backend, materials.WithChunkSize(3))
	id := uuid.New()

	_, err := store.WriteFrom(ctx, id, strings.NewReader("old content"))
	require.NoError(t, err)

	rc, err := backend.Open(ctx, id)
	require.NoError(t, err)
	defer rc.Close()

	_, err = store.WriteFrom(ctx, id, strings.NewReader("new content"))
	require.NoError(t, err)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "old content", string(data))
}
