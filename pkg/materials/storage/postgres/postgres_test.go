package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/storage/postgres"
	"github.com/tendant/course-materials/pkg/materials/storage/storagetest"
)

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	storagetest.Run(t, func(t *testing.T) materials.ChunkBackend {
		ctx := context.Background()
		schema := "content_test_" + uuid.NewString()[:8]

		admin, err := pgx.Connect(ctx, dsn)
		require.NoError(t, err)
		_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
		require.NoError(t, err)

		cfg, err := pgxpool.ParseConfig(dsn)
		require.NoError(t, err)
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		require.NoError(t, err)

		t.Cleanup(func() {
			pool.Close()
			_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
			_ = admin.Close(context.Background())
		})

		require.NoError(t, postgres.EnsureSchema(ctx, pool))
		return postgres.New(pool)
	})
}
