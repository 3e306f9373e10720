package materials

import (
	"errors"
	"log/slog"
	"time"

	"github.com/tendant/course-materials/pkg/materials/mimecatalog"
)

// Store wires the metadata repository, the content store and the MIME catalog
// together. It is the factory for Material values and hosts the tree operations.
type Store struct {
	repo    Repository
	content *ContentStore
	catalog *mimecatalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// Option represents a functional option for configuring the Store
type Option func(*Store)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *Store) {
		s.repo = repo
	}
}

// WithContentStore sets the content store
func WithContentStore(content *ContentStore) Option {
	return func(s *Store) {
		s.content = content
	}
}

// WithChunkBackend wraps backend in a ContentStore with default settings
func WithChunkBackend(backend ChunkBackend) Option {
	return func(s *Store) {
		s.content = NewContentStore(backend)
	}
}

// WithCatalog replaces the default MIME catalog
func WithCatalog(catalog *mimecatalog.Catalog) Option {
	return func(s *Store) {
		s.catalog = catalog
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for AddTime
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Store with the given options
func New(options ...Option) (*Store, error) {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if s.content == nil {
		return nil, errors.New("content store is required")
	}
	if s.catalog == nil {
		s.catalog = mimecatalog.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// Repository returns the metadata repository.
func (s *Store) Repository() Repository {
	return s.repo
}

// Content returns the content store.
func (s *Store) Content() *ContentStore {
	return s.content
}

// Catalog returns the MIME catalog.
func (s *Store) Catalog() *mimecatalog.Catalog {
	return s.catalog
}

// Logger returns the store logger.
func (s *Store) Logger() *slog.Logger {
	return s.logger
}
