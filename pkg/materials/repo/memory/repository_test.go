package memory_test

import (
	"testing"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/repo/memory"
	"github.com/tendant/course-materials/pkg/materials/repo/repotest"
)

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) materials.Repository {
		return memory.New()
	})
}
