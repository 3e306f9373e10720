package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/course-materials/pkg/materials"
)

//go:embed schema.sql
var Schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements materials.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// EnsureSchema creates the materials table and its indexes if they are missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return handlePostgresError("ensure schema", err)
	}
	return nil
}

// handlePostgresError maps driver errors onto the materials error taxonomy.
func handlePostgresError(operation string, err error) error {
	if errors.Is(err, materials.ErrInvalidVariant) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, materials.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %s: %w", operation, pgErr.ConstraintName, materials.ErrDuplicateConstraint)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %s: %w", operation, pgErr.Detail, materials.ErrInvalidParent)
		case "23514", "22P02": // check_violation, invalid_text_representation
			return fmt.Errorf("%s: %s: %w", operation, pgErr.Message, materials.ErrInvalidVariant)
		}
	}

	return materials.NewStorageError("postgres", operation, "", err)
}

const materialColumns = `id, type, course_id, parent_id, owner_id, name, description,
	add_time, mime_type, size_bytes, uri`

func (r *Repository) CreateMaterial(ctx context.Context, rec *materials.Record) error {
	query := `
		INSERT INTO materials (` + materialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, string(rec.Type), rec.CourseID, rec.ParentID, rec.OwnerID,
		rec.Name, rec.Description, rec.AddTime, rec.MimeType, rec.SizeBytes, rec.URI)
	if err != nil {
		return handlePostgresError("create material", err)
	}
	return nil
}

func (r *Repository) GetMaterial(ctx context.Context, id uuid.UUID) (*materials.Record, error) {
	query := `SELECT ` + materialColumns + ` FROM materials WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, handlePostgresError("get material", err)
	}
	return rec, nil
}

// UpdateMaterial rewrites every column except id and type.
func (r *Repository) UpdateMaterial(ctx context.Context, rec *materials.Record) error {
	query := `
		UPDATE materials SET
			course_id = $2, parent_id = $3, owner_id = $4, name = $5,
			description = $6, add_time = $7, mime_type = $8,
			size_bytes = $9, uri = $10
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.CourseID, rec.ParentID, rec.OwnerID, rec.Name,
		rec.Description, rec.AddTime, rec.MimeType, rec.SizeBytes, rec.URI)
	if err != nil {
		return handlePostgresError("update material", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update material %s: %w", rec.ID, materials.ErrNotFound)
	}
	return nil
}

func (r *Repository) DeleteMaterial(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return false, handlePostgresError("delete material", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListChildren(ctx context.Context, courseID uuid.UUID, parentID *uuid.UUID) ([]*materials.Record, error) {
	query := `
		SELECT ` + materialColumns + ` FROM materials
		WHERE course_id = $1 AND parent_id IS NOT DISTINCT FROM $2
		ORDER BY add_time, id`

	rows, err := r.db.Query(ctx, query, courseID, parentID)
	if err != nil {
		return nil, handlePostgresError("list children", err)
	}
	return collectRecords(rows, "list children")
}

func (r *Repository) ChildIDs(ctx context.Context, parentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM materials WHERE parent_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, handlePostgresError("list child ids", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, handlePostgresError("list child ids", err)
	}
	return ids, nil
}

// Ancestors walks the parent chain in one query. The depth guard stops the
// walk should a cycle ever be written by another client.
func (r *Repository) Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 0 AS depth
			FROM materials
			WHERE id = $1
			UNION ALL
			SELECT m.id, m.parent_id, c.depth + 1
			FROM materials m
			JOIN chain c ON m.id = c.parent_id
			WHERE c.depth < 10000 AND m.id <> $1
		)
		SELECT id, depth FROM chain ORDER BY depth`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, handlePostgresError("ancestors", err)
	}
	defer rows.Close()

	var ancestors []uuid.UUID
	found := false
	for rows.Next() {
		var ancestor uuid.UUID
		var depth int
		if err := rows.Scan(&ancestor, &depth); err != nil {
			return nil, handlePostgresError("ancestors", err)
		}
		if depth == 0 {
			found = true
			continue
		}
		ancestors = append(ancestors, ancestor)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("ancestors", err)
	}
	if !found {
		return nil, fmt.Errorf("ancestors of %s: %w", id, materials.ErrNotFound)
	}
	return ancestors, nil
}

func (r *Repository) ListPendingLegacy(ctx context.Context) ([]*materials.Record, error) {
	query := `
		SELECT ` + materialColumns + ` FROM materials
		WHERE type = 'file' AND uri <> ''
		ORDER BY add_time, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, handlePostgresError("list pending legacy", err)
	}
	return collectRecords(rows, "list pending legacy")
}

func scanRecord(row pgx.Row) (*materials.Record, error) {
	var rec materials.Record
	var typ string
	err := row.Scan(
		&rec.ID, &typ, &rec.CourseID, &rec.ParentID, &rec.OwnerID,
		&rec.Name, &rec.Description, &rec.AddTime, &rec.MimeType,
		&rec.SizeBytes, &rec.URI)
	if err != nil {
		return nil, err
	}
	if rec.Type, err = materials.ParseType(typ); err != nil {
		return nil, err
	}
	rec.AddTime = rec.AddTime.UTC()
	return &rec, nil
}

func collectRecords(rows pgx.Rows, operation string) ([]*materials.Record, error) {
	defer rows.Close()

	var result []*materials.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, handlePostgresError(operation, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError(operation, err)
	}
	return result, nil
}
