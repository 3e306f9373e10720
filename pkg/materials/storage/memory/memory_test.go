package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	memorystorage "github.com/tendant/course-materials/pkg/materials/storage/memory"
	"github.com/tendant/course-materials/pkg/materials/storage/storagetest"
)

func TestMemoryBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) materials.ChunkBackend {
		return memorystorage.New()
	})
}

func TestMemoryBackend_FailedWriteReleasesStage(t *testing.T) {
	backend := memorystorage.New()
	store := materials.NewContentStore(backend, materials.WithChunkSize(2))

	_, err := store.WriteFrom(context.Background(), uuid.New(), strings.NewReader("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 0, backend.PendingStages())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.WriteFrom(ctx, uuid.New(), strings.NewReader("abcdef"))
	require.Error(t, err)
	assert.Equal(t, 0, backend.PendingStages())
}
