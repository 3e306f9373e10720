package materials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// ChunkSize is the number of bytes moved per storage round trip.
const ChunkSize = 512 * 1024

// ContentStore moves material payloads in and out of a ChunkBackend without
// holding a whole payload in memory.
type ContentStore struct {
	backend   ChunkBackend
	chunkSize int
	logger    *slog.Logger
}

// ContentOption configures a ContentStore.
type ContentOption func(*ContentStore)

// WithChunkSize overrides ChunkSize. Intended for tests.
func WithChunkSize(n int) ContentOption {
	return func(s *ContentStore) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithContentLogger sets the logger used for write diagnostics.
func WithContentLogger(logger *slog.Logger) ContentOption {
	return func(s *ContentStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewContentStore creates a ContentStore on top of backend.
func NewContentStore(backend ChunkBackend, opts ...ContentOption) *ContentStore {
	s := &ContentStore{
		backend:   backend,
		chunkSize: ChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying chunk backend.
func (s *ContentStore) Backend() ChunkBackend {
	return s.backend
}

// WriteFrom replaces the content of id with everything read from src and
// returns the number of bytes written.
//
// Chunks go to a fresh staging target: the first with WriteCreate, the rest
// with WriteAppend. The live blob is swapped only after src is exhausted and
// every chunk was stored; on failure the previous content stays in place.
func (s *ContentStore) WriteFrom(ctx context.Context, id uuid.UUID, src io.Reader) (written int64, err error) {
	if id == uuid.Nil {
		return 0, ErrNotPersisted
	}

	key := StageKey{MaterialID: id, StageID: uuid.New()}
	defer func() {
		if err == nil {
			return
		}
		if abortErr := s.backend.Abort(context.WithoutCancel(ctx), key); abortErr != nil {
			s.logger.Warn("Failed to abort content write", "material_id", id, "stage", key.StageID, "err", abortErr)
		}
	}()

	buf := make([]byte, s.chunkSize)
	mode := WriteCreate
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := io.ReadFull(src, buf)
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return written, fmt.Errorf("read source: %w", readErr)
		}

		// An empty source still creates an empty blob.
		if n > 0 || mode == WriteCreate {
			if err := s.backend.WriteChunk(ctx, key, buf[:n], mode); err != nil {
				return written, NewStorageError(s.backend.Name(), "write_chunk", key.String(), err)
			}
			written += int64(n)
			mode = WriteAppend
		}

		if readErr != nil {
			break
		}
	}

	if err := s.backend.Commit(ctx, key); err != nil {
		return written, NewStorageError(s.backend.Name(), "commit", key.String(), err)
	}

	s.logger.Debug("Content written", "material_id", id, "bytes", written, "backend", s.backend.Name())
	return written, nil
}

// OpenRead opens the content of id as a sequential stream. The caller must
// close the stream on every path.
func (s *ContentStore) OpenRead(ctx context.Context, id uuid.UUID) (*ContentStream, error) {
	rc, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ContentStream{store: s, id: id, rc: rc}, nil
}

// Size returns the number of bytes stored for id.
func (s *ContentStore) Size(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.backend.Size(ctx, id)
	if err != nil {
		return 0, NewStorageError(s.backend.Name(), "size", id.String(), err)
	}
	return n, nil
}

// Delete releases the content of id.
func (s *ContentStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return NewStorageError(s.backend.Name(), "delete", id.String(), err)
	}
	return nil
}

func (s *ContentStore) open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	rc, err := s.backend.Open(ctx, id)
	if err != nil {
		return nil, NewStorageError(s.backend.Name(), "open", id.String(), err)
	}
	return rc, nil
}

// ContentStream is a forward-only reader over a stored payload that can be
// restarted from the first byte.
type ContentStream struct {
	store *ContentStore
	id    uuid.UUID
	rc    io.ReadCloser
}

// MaterialID returns the material whose content is streamed.
func (c *ContentStream) MaterialID() uuid.UUID {
	return c.id
}

func (c *ContentStream) Read(p []byte) (int, error) {
	if c.rc == nil {
		return 0, errors.New("content stream is closed")
	}
	return c.rc.Read(p)
}

// Close releases the underlying reader. Closing twice is a no-op.
func (c *ContentStream) Close() error {
	if c.rc == nil {
		return nil
	}
	err := c.rc.Close()
	c.rc = nil
	return err
}

// Rewind restarts the stream from the first byte.
func (c *ContentStream) Rewind(ctx context.Context) error {
	if err := c.Close(); err != nil {
		return err
	}
	rc, err := c.store.open(ctx, c.id)
	if err != nil {
		return err
	}
	c.rc = rc
	return nil
}
