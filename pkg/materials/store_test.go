package materials_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	repomemory "github.com/tendant/course-materials/pkg/materials/repo/memory"
	storagememory "github.com/tendant/course-materials/pkg/materials/storage/memory"
)

func TestNew(t *testing.T) {
	t.Run("RequiresRepository", func(t *testing.T) {
		_, err := materials.New(materials.WithChunkBackend(storagememory.New()))
		assert.Error(t, err)
	})

	t.Run("RequiresContentStore", func(t *testing.T) {
		_, err := materials.New(materials.WithRepository(repomemory.New()))
		assert.Error(t, err)
	})

	t.Run("Defaults", func(t *testing.T) {
		backend := storagememory.New()
		store, err := materials.New(
			materials.WithRepository(repomemory.New()),
			materials.WithChunkBackend(backend),
		)
		require.NoError(t, err)
		assert.NotNil(t, store.Catalog())
		assert.NotNil(t, store.Logger())
		assert.Equal(t, backend, store.Content().Backend())
	})
}
