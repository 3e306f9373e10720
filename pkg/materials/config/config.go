package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/migrate"
	"github.com/tendant/course-materials/pkg/materials/repo/memory"
	repopg "github.com/tendant/course-materials/pkg/materials/repo/postgres"
	badgerstorage "github.com/tendant/course-materials/pkg/materials/storage/badger"
	fsstorage "github.com/tendant/course-materials/pkg/materials/storage/fs"
	memorystorage "github.com/tendant/course-materials/pkg/materials/storage/memory"
	pgstorage "github.com/tendant/course-materials/pkg/materials/storage/postgres"
	s3storage "github.com/tendant/course-materials/pkg/materials/storage/s3"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:                  "8080",
		Environment:           "development",
		DatabaseURL:           "memory",
		DBSchema:              "materials",
		ContentBackend:        "memory",
		FSDir:                 "./data/materials",
		S3Region:              "us-east-1",
		MigrationTimeLimit:    migrate.DefaultTimeLimit,
		MigrationSafetyMargin: migrate.DefaultSafetyMargin,
	}
}

// Config represents the configuration of the course material store and its binaries.
// Field tags drive both environment loading and validation.
type Config struct {
	Port        string `env:"PORT" env-default:"8080" validate:"required"`
	Environment string `env:"ENVIRONMENT" env-default:"development" validate:"oneof=development production testing"`

	// SHA-256 hex digest of the API key guarding /api/v1; empty leaves the API open.
	APIKeySHA256 string `env:"API_KEY_SHA256" validate:"omitempty,sha256"`

	// Database configuration
	DatabaseURL string `env:"DATABASE_URL" env-default:"memory" validate:"required"` // "memory" or postgres://...
	DBSchema    string `env:"DB_SCHEMA" env-default:"materials"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" env-default:"false"` // create tables on startup

	// Content storage configuration
	ContentBackend string `env:"CONTENT_BACKEND" env-default:"memory" validate:"oneof=memory fs postgres s3 badger"`
	FSDir          string `env:"CONTENT_FS_DIR" env-default:"./data/materials" validate:"required_if=ContentBackend fs"`
	BadgerDir      string `env:"CONTENT_BADGER_DIR" validate:"required_if=ContentBackend badger"`

	S3Bucket          string `env:"AWS_S3_BUCKET" validate:"required_if=ContentBackend s3"`
	S3Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	S3Endpoint        string `env:"AWS_S3_ENDPOINT"`
	S3Prefix          string `env:"AWS_S3_PREFIX"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	S3CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`

	// Legacy import configuration
	LegacyRoot            string        `env:"LEGACY_ROOT"`
	MigrationTimeLimit    time.Duration `env:"MIGRATION_TIME_LIMIT" env-default:"30s" validate:"gt=0s"`
	MigrationSafetyMargin time.Duration `env:"MIGRATION_SAFETY_MARGIN" env-default:"5s" validate:"gte=0s,ltfield=MigrationTimeLimit"`
}

var validate = validator.New()

// UsesPostgres reports whether DatabaseURL names a Postgres database.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.DatabaseURL != "memory" && !c.UsesPostgres() {
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgres://...')", c.DatabaseURL)
	}
	if c.ContentBackend == "postgres" && !c.UsesPostgres() {
		return errors.New("CONTENT_BACKEND=postgres requires a postgres DATABASE_URL")
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// Build wires the repository and content backend named by the configuration
// into a Store. The returned close function releases pools and databases and
// must be called once the store is no longer used.
func (c *Config) Build(ctx context.Context, opts ...materials.Option) (*materials.Store, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var pool *pgxpool.Pool
	if c.UsesPostgres() {
		var err error
		if pool, err = c.newPool(ctx); err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
	}

	repo, err := c.buildRepository(ctx, pool)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}

	backend, closeBackend, err := c.buildContentBackend(ctx, pool)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to build content backend %s: %w", c.ContentBackend, err)
	}
	if closeBackend != nil {
		closers = append(closers, closeBackend)
	}

	options := []materials.Option{
		materials.WithRepository(repo),
		materials.WithChunkBackend(backend),
	}
	store, err := materials.New(append(options, opts...)...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return store, closeAll, nil
}

// NewMigrationJob creates a legacy import job over the local filesystem
// rooted at LegacyRoot.
func (c *Config) NewMigrationJob(store *materials.Store, logger *slog.Logger) (*migrate.Job, error) {
	if c.LegacyRoot == "" {
		return nil, errors.New("LEGACY_ROOT is required for migration")
	}
	return migrate.New(store, afero.NewOsFs(), c.LegacyRoot,
		migrate.WithTimeLimit(c.MigrationTimeLimit),
		migrate.WithSafetyMargin(c.MigrationSafetyMargin),
		migrate.WithLogger(logger),
	), nil
}

func (c *Config) newPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	schema := c.DBSchema
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if schema == "" {
			return nil
		}
		_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

func (c *Config) buildRepository(ctx context.Context, pool *pgxpool.Pool) (materials.Repository, error) {
	if pool == nil {
		return memory.New(), nil
	}
	if c.AutoMigrate {
		if err := repopg.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
	}
	return repopg.NewWithPool(pool), nil
}

func (c *Config) buildContentBackend(ctx context.Context, pool *pgxpool.Pool) (materials.ChunkBackend, func(), error) {
	switch c.ContentBackend {
	case "memory":
		return memorystorage.New(), nil, nil

	case "fs":
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: c.FSDir})
		return backend, nil, err

	case "postgres":
		if pool == nil {
			return nil, nil, errors.New("postgres content backend requires a postgres database")
		}
		if c.AutoMigrate {
			if err := pgstorage.EnsureSchema(ctx, pool); err != nil {
				return nil, nil, err
			}
		}
		return pgstorage.New(pool), nil, nil

	case "s3":
		backend, err := s3storage.New(ctx, s3storage.Config{
			Region:                 c.S3Region,
			Bucket:                 c.S3Bucket,
			Prefix:                 c.S3Prefix,
			AccessKeyID:            c.S3AccessKeyID,
			SecretAccessKey:        c.S3SecretAccessKey,
			Endpoint:               c.S3Endpoint,
			UsePathStyle:           c.S3UsePathStyle,
			CreateBucketIfNotExist: c.S3CreateBucket,
		})
		return backend, nil, err

	case "badger":
		backend, err := badgerstorage.New(badgerstorage.Config{Dir: c.BadgerDir})
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { _ = backend.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported content backend: %s", c.ContentBackend)
	}
}
