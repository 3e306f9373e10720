package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	fsstorage "github.com/tendant/course-materials/pkg/materials/storage/fs"
	"github.com/tendant/course-materials/pkg/materials/storage/storagetest"
)

func TestFSBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) materials.ChunkBackend {
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		return backend
	})
}

func TestFSBackend_RequiresBaseDir(t *testing.T) {
	_, err := fsstorage.New(fsstorage.Config{})
	assert.Error(t, err)
}

func TestFSBackend_Layout(t *testing.T) {
	baseDir := t.TempDir()
	backend, err := fsstorage.New(fsstorage.Config{BaseDir: baseDir})
	require.NoError(t, err)

	ctx := context.Background()
	store := materials.NewContentStore(backend)
	id := uuid.New()

	_, err = store.WriteFrom(ctx, id, strings.NewReader("on disk"))
	require.NoError(t, err)

	shard := filepath.Join(baseDir, id.String()[:2])
	data, err := os.ReadFile(filepath.Join(shard, id.String()))
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(data))

	staged, err := os.ReadDir(filepath.Join(baseDir, ".staging"))
	require.NoError(t, err)
	assert.Empty(t, staged)

	require.NoError(t, store.Delete(ctx, id))
	_, err = os.Stat(shard)
	assert.True(t, os.IsNotExist(err), "empty shard directory should be removed")
}
