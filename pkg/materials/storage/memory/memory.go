package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/course-materials/pkg/materials"
)

// Backend is an in-memory implementation of the materials.ChunkBackend interface
type Backend struct {
	mu      sync.RWMutex
	objects map[uuid.UUID][]byte
	stages  map[materials.StageKey][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[uuid.UUID][]byte),
		stages:  make(map[materials.StageKey][]byte),
	}
}

func (b *Backend) Name() string { return "memory" }

// WriteChunk appends a copy of data to the stage buffer
func (b *Backend) WriteChunk(ctx context.Context, key materials.StageKey, data []byte, mode materials.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case materials.WriteCreate:
		b.stages[key] = append([]byte(nil), data...)
	case materials.WriteAppend:
		buf, exists := b.stages[key]
		if !exists {
			return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
		}
		b.stages[key] = append(buf, data...)
	default:
		return fmt.Errorf("unsupported write mode %s", mode)
	}
	return nil
}

func (b *Backend) Commit(ctx context.Context, key materials.StageKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, exists := b.stages[key]
	if !exists {
		return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
	}
	delete(b.stages, key)
	b.objects[key.MaterialID] = buf
	return nil
}

func (b *Backend) Abort(ctx context.Context, key materials.StageKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.stages, key)
	return nil
}

// Open returns a reader over the live blob. Later commits do not affect it.
func (b *Backend) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[id]
	if !exists {
		return nil, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) Size(ctx context.Context, id uuid.UUID) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[id]
	if !exists {
		return 0, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	}
	return int64(len(data)), nil
}

func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[id]; !exists {
		return fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	}
	delete(b.objects, id)
	return nil
}

// PendingStages reports the number of uncommitted stages, for tests.
func (b *Backend) PendingStages() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.stages)
}
