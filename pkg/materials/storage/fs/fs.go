package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tendant/course-materials/pkg/materials"
)

const stagingDir = ".staging"

// Backend is a filesystem implementation of the materials.ChunkBackend interface.
//
// Live blobs are stored at <BaseDir>/<first two id chars>/<id>. Writes go to a
// file under <BaseDir>/.staging and are renamed into place on commit, so a
// reader never sees a partially written blob.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(filepath.Join(config.BaseDir, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: filepath.Clean(config.BaseDir)}, nil
}

func (b *Backend) Name() string { return "fs" }

func (b *Backend) livePath(id uuid.UUID) string {
	s := id.String()
	return filepath.Join(b.baseDir, s[:2], s)
}

func (b *Backend) stagePath(key materials.StageKey) string {
	return filepath.Join(b.baseDir, stagingDir, key.MaterialID.String()+"."+key.StageID.String())
}

func (b *Backend) WriteChunk(ctx context.Context, key materials.StageKey, data []byte, mode materials.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var flag int
	switch mode {
	case materials.WriteCreate:
		flag = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	case materials.WriteAppend:
		flag = os.O_APPEND | os.O_WRONLY
	default:
		return fmt.Errorf("unsupported write mode %s", mode)
	}

	file, err := os.OpenFile(b.stagePath(key), flag, 0644)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}
	return nil
}

func (b *Backend) Commit(ctx context.Context, key materials.StageKey) error {
	src := b.stagePath(key)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
	}

	dst := b.livePath(key.MaterialID)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to publish staging file: %w", err)
	}
	return nil
}

func (b *Backend) Abort(ctx context.Context, key materials.StageKey) error {
	if err := os.Remove(b.stagePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	return nil
}

func (b *Backend) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	file, err := os.Open(b.livePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (b *Backend) Size(ctx context.Context, id uuid.UUID) (int64, error) {
	info, err := os.Stat(b.livePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	} else if err != nil {
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}
	return info.Size(), nil
}

func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	path := b.livePath(id)
	if err := os.Remove(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(path))
	return nil
}

// cleanupEmptyDirectories removes empty shard directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || len(dir) < len(b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
