// Package storagetest holds the behaviour every materials.ChunkBackend must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) materials.ChunkBackend

// Run exercises backend semantics: staged writes, commit and abort,
// reads, sizes and deletes.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CommitPublishesStagedChunks", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := newKey(uuid.New())

		require.NoError(t, b.WriteChunk(ctx, key, []byte("hello, "), materials.WriteCreate))
		require.NoError(t, b.WriteChunk(ctx, key, []byte("world"), materials.WriteAppend))

		_, err := b.Size(ctx, key.MaterialID)
		assert.True(t, errors.Is(err, materials.ErrNotFound), "staged bytes must not be visible before commit")

		require.NoError(t, b.Commit(ctx, key))
		assert.Equal(t, "hello, world", read(t, b, key.MaterialID))

		size, err := b.Size(ctx, key.MaterialID)
		require.NoError(t, err)
		assert.Equal(t, int64(12), size)
	})

	t.Run("CommitReplacesLiveBlob", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		id := uuid.New()

		write(t, b, id, "first version")

		key := newKey(id)
		require.NoError(t, b.WriteChunk(ctx, key, []byte("second"), materials.WriteCreate))
		assert.Equal(t, "first version", read(t, b, id))

		require.NoError(t, b.Commit(ctx, key))
		assert.Equal(t, "second", read(t, b, id))
	})

	t.Run("AbortKeepsLiveBlob", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		id := uuid.New()

		write(t, b, id, "keep me")

		key := newKey(id)
		require.NoError(t, b.WriteChunk(ctx, key, []byte("discard"), materials.WriteCreate))
		require.NoError(t, b.Abort(ctx, key))
		assert.Equal(t, "keep me", read(t, b, id))

		assert.NoError(t, b.Abort(ctx, newKey(id)), "aborting an unknown stage is not an error")
	})

	t.Run("CreateModeResetsStage", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := newKey(uuid.New())

		require.NoError(t, b.WriteChunk(ctx, key, []byte("stale"), materials.WriteCreate))
		require.NoError(t, b.WriteChunk(ctx, key, []byte("fresh"), materials.WriteCreate))
		require.NoError(t, b.Commit(ctx, key))
		assert.Equal(t, "fresh", read(t, b, key.MaterialID))
	})

	t.Run("EmptyBlob", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := newKey(uuid.New())

		require.NoError(t, b.WriteChunk(ctx, key, nil, materials.WriteCreate))
		require.NoError(t, b.Commit(ctx, key))

		size, err := b.Size(ctx, key.MaterialID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)
		assert.Equal(t, "", read(t, b, key.MaterialID))
	})

	t.Run("ChunkBufferIsNotRetained", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := newKey(uuid.New())

		buf := []byte("abc")
		require.NoError(t, b.WriteChunk(ctx, key, buf, materials.WriteCreate))
		copy(buf, "xyz")
		require.NoError(t, b.WriteChunk(ctx, key, buf, materials.WriteAppend))
		require.NoError(t, b.Commit(ctx, key))
		assert.Equal(t, "abcxyz", read(t, b, key.MaterialID))
	})

	t.Run("MissingBlob", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		id := uuid.New()

		_, err := b.Open(ctx, id)
		assert.True(t, errors.Is(err, materials.ErrNotFound))

		_, err = b.Size(ctx, id)
		assert.True(t, errors.Is(err, materials.ErrNotFound))

		err = b.Delete(ctx, id)
		assert.True(t, errors.Is(err, materials.ErrNotFound))
	})

	t.Run("Delete", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		id := uuid.New()

		write(t, b, id, "short lived")
		require.NoError(t, b.Delete(ctx, id))

		_, err := b.Open(ctx, id)
		assert.True(t, errors.Is(err, materials.ErrNotFound))
	})

	t.Run("ContentStoreRoundTrip", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		store := materials.NewContentStore(b, materials.WithChunkSize(7))
		id := uuid.New()

		payload := strings.Repeat("0123456789", 10)
		n, err := store.WriteFrom(ctx, id, strings.NewReader(payload))
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), n)

		stream, err := store.OpenRead(ctx, id)
		require.NoError(t, err)
		defer stream.Close()

		got, err := io.ReadAll(stream)
		require.NoError(t, err)
		assert.Equal(t, payload, string(got))

		require.NoError(t, stream.Rewind(ctx))
		head := make([]byte, 10)
		_, err = io.ReadFull(stream, head)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(head))
	})

	t.Run("FailedWriteKeepsPreviousContent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		store := materials.NewContentStore(b, materials.WithChunkSize(4))
		id := uuid.New()

		_, err := store.WriteFrom(ctx, id, strings.NewReader("original"))
		require.NoError(t, err)

		src := io.MultiReader(strings.NewReader("partial data"), errReader{})
		_, err = store.WriteFrom(ctx, id, src)
		require.Error(t, err)

		assert.Equal(t, "original", read(t, b, id))
	})
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("source failed")
}

func newKey(id uuid.UUID) materials.StageKey {
	return materials.StageKey{MaterialID: id, StageID: uuid.New()}
}

func write(t *testing.T, b materials.ChunkBackend, id uuid.UUID, data string) {
	t.Helper()
	ctx := context.Background()
	key := newKey(id)
	require.NoError(t, b.WriteChunk(ctx, key, []byte(data), materials.WriteCreate))
	require.NoError(t, b.Commit(ctx, key))
}

func read(t *testing.T, b materials.ChunkBackend, id uuid.UUID) string {
	t.Helper()
	rc, err := b.Open(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, rc)
	require.NoError(t, err)
	return buf.String()
}
