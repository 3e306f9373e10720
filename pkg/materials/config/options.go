package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv reads the environment into the configuration. Unset variables take
// their env-default value, so WithEnv should come before the other options.
//
//	PORT, ENVIRONMENT, API_KEY_SHA256
//	DATABASE_URL             "memory" or postgres://...
//	DB_SCHEMA, DB_AUTO_MIGRATE
//	CONTENT_BACKEND          memory | fs | postgres | s3 | badger
//	CONTENT_FS_DIR, CONTENT_BADGER_DIR
//	AWS_S3_BUCKET, AWS_S3_REGION, AWS_S3_ENDPOINT, AWS_S3_PREFIX,
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_S3_USE_PATH_STYLE,
//	AWS_S3_CREATE_BUCKET
//	LEGACY_ROOT, MIGRATION_TIME_LIMIT, MIGRATION_SAFETY_MARGIN
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithDatabase sets the database URL ("memory" or a postgres URL) and schema
func WithDatabase(url, schema string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("database URL cannot be empty")
		}
		c.DatabaseURL = url
		c.DBSchema = schema
		return nil
	}
}

// WithContentBackend selects the content backend by name
func WithContentBackend(name string) Option {
	return func(c *Config) error {
		c.ContentBackend = name
		return nil
	}
}

// WithFSDir selects the filesystem content backend rooted at dir
func WithFSDir(dir string) Option {
	return func(c *Config) error {
		c.ContentBackend = "fs"
		c.FSDir = dir
		return nil
	}
}

// WithBadgerDir selects the badger content backend stored in dir
func WithBadgerDir(dir string) Option {
	return func(c *Config) error {
		c.ContentBackend = "badger"
		c.BadgerDir = dir
		return nil
	}
}

// WithLegacyRoot sets the directory holding files awaiting legacy import
func WithLegacyRoot(root string) Option {
	return func(c *Config) error {
		c.LegacyRoot = root
		return nil
	}
}

// WithMigrationBudget sets the time limit and safety margin of one migration run
func WithMigrationBudget(limit, margin time.Duration) Option {
	return func(c *Config) error {
		c.MigrationTimeLimit = limit
		c.MigrationSafetyMargin = margin
		return nil
	}
}

// WithAPIKeySHA256 protects the API with the key whose SHA-256 hex digest is sum
func WithAPIKeySHA256(sum string) Option {
	return func(c *Config) error {
		c.APIKeySHA256 = sum
		return nil
	}
}
