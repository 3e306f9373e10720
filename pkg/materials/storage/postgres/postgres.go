package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tendant/course-materials/pkg/materials"
)

//go:embed schema.sql
var Schema string

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Backend stores material content as bytea chunk rows.
//
// Every write lands in its own stage (material_id, stage_id). The live blob is
// the stage named by material_content; Commit moves that pointer and drops the
// chunks of the replaced stage in one transaction.
type Backend struct {
	db DB
}

// New creates a new PostgreSQL chunk backend
func New(db DB) *Backend {
	return &Backend{db: db}
}

// EnsureSchema creates the content tables if they are missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure content schema: %w", err)
	}
	return nil
}

func (b *Backend) Name() string { return "postgres" }

func (b *Backend) WriteChunk(ctx context.Context, key materials.StageKey, data []byte, mode materials.WriteMode) error {
	if data == nil {
		data = []byte{}
	}

	switch mode {
	case materials.WriteCreate:
		return pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `
				DELETE FROM material_content_chunks
				WHERE material_id = $1 AND stage_id = $2`,
				key.MaterialID, key.StageID); err != nil {
				return fmt.Errorf("reset stage: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO material_content_chunks (material_id, stage_id, seq, data)
				VALUES ($1, $2, 0, $3)`,
				key.MaterialID, key.StageID, data); err != nil {
				return fmt.Errorf("insert chunk: %w", err)
			}
			return nil
		})

	case materials.WriteAppend:
		tag, err := b.db.Exec(ctx, `
			INSERT INTO material_content_chunks (material_id, stage_id, seq, data)
			SELECT $1, $2, MAX(seq) + 1, $3
			FROM material_content_chunks
			WHERE material_id = $1 AND stage_id = $2
			HAVING COUNT(*) > 0`,
			key.MaterialID, key.StageID, data)
		if err != nil {
			return fmt.Errorf("append chunk: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
		}
		return nil

	default:
		return fmt.Errorf("unsupported write mode %s", mode)
	}
}

func (b *Backend) Commit(ctx context.Context, key materials.StageKey) error {
	return pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
		var chunks, size int64
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*), COALESCE(SUM(octet_length(data)), 0)
			FROM material_content_chunks
			WHERE material_id = $1 AND stage_id = $2`,
			key.MaterialID, key.StageID).Scan(&chunks, &size); err != nil {
			return fmt.Errorf("measure stage: %w", err)
		}
		if chunks == 0 {
			return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
		}

		var previous uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT stage_id FROM material_content
			WHERE material_id = $1 FOR UPDATE`,
			key.MaterialID).Scan(&previous)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock live pointer: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO material_content (material_id, stage_id, size_bytes)
			VALUES ($1, $2, $3)
			ON CONFLICT (material_id) DO UPDATE
			SET stage_id = EXCLUDED.stage_id, size_bytes = EXCLUDED.size_bytes`,
			key.MaterialID, key.StageID, size); err != nil {
			return fmt.Errorf("swap live pointer: %w", err)
		}

		if previous != uuid.Nil && previous != key.StageID {
			if _, err := tx.Exec(ctx, `
				DELETE FROM material_content_chunks
				WHERE material_id = $1 AND stage_id = $2`,
				key.MaterialID, previous); err != nil {
				return fmt.Errorf("drop replaced stage: %w", err)
			}
		}
		return nil
	})
}

func (b *Backend) Abort(ctx context.Context, key materials.StageKey) error {
	if _, err := b.db.Exec(ctx, `
		DELETE FROM material_content_chunks
		WHERE material_id = $1 AND stage_id = $2
		AND NOT EXISTS (
			SELECT 1 FROM material_content c
			WHERE c.material_id = $1 AND c.stage_id = $2
		)`,
		key.MaterialID, key.StageID); err != nil {
		return fmt.Errorf("abort stage: %w", err)
	}
	return nil
}

type pointer struct {
	stage uuid.UUID
	size  int64
}

func (b *Backend) live(ctx context.Context, id uuid.UUID) (pointer, error) {
	var p pointer
	err := b.db.QueryRow(ctx, `
		SELECT stage_id, size_bytes FROM material_content
		WHERE material_id = $1`, id).Scan(&p.stage, &p.size)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("read live pointer: %w", err)
	}
	return p, nil
}

// Open returns a reader that fetches one chunk row per round trip.
func (b *Backend) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	p, err := b.live(ctx, id)
	if err != nil {
		return nil, err
	}
	return &chunkReader{ctx: ctx, db: b.db, id: id, stage: p.stage, remaining: p.size}, nil
}

func (b *Backend) Size(ctx context.Context, id uuid.UUID) (int64, error) {
	p, err := b.live(ctx, id)
	return p.size, err
}

func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
		var stage uuid.UUID
		err := tx.QueryRow(ctx, `
			DELETE FROM material_content WHERE material_id = $1
			RETURNING stage_id`, id).Scan(&stage)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("delete live pointer: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM material_content_chunks
			WHERE material_id = $1 AND stage_id = $2`, id, stage); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return nil
	})
}

type chunkReader struct {
	ctx       context.Context
	db        DB
	id        uuid.UUID
	stage     uuid.UUID
	seq       int32
	remaining int64
	buf       []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.remaining <= 0 {
			return 0, io.EOF
		}
		err := r.db.QueryRow(r.ctx, `
			SELECT data FROM material_content_chunks
			WHERE material_id = $1 AND stage_id = $2 AND seq = $3`,
			r.id, r.stage, r.seq).Scan(&r.buf)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("content %s was replaced during read: %w", r.id, io.ErrUnexpectedEOF)
		}
		if err != nil {
			return 0, fmt.Errorf("read chunk %d: %w", r.seq, err)
		}
		r.seq++
		r.remaining -= int64(len(r.buf))
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.buf = nil
	r.remaining = 0
	return nil
}
