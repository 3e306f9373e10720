// Package migrate moves files referenced by legacy material records from the
// old on-disk layout into the content store.
//
// A Job is designed to be invoked repeatedly, e.g. from cron, until the
// backlog is drained. Progress lives in the materials themselves: a FILE keeps
// its legacy URI until its content has been imported, so an interrupted run
// simply resumes on the next invocation.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/tendant/course-materials/pkg/materials"
)

// Default budget of one invocation.
const (
	DefaultTimeLimit    = 30 * time.Second
	DefaultSafetyMargin = 5 * time.Second
)

// Outcome summarizes a Result for callers that only need a status.
type Outcome int

const (
	// OutcomeClean means the backlog is drained and no inconsistencies were found.
	OutcomeClean Outcome = iota
	// OutcomePending means the budget ran out with items left to migrate.
	OutcomePending
	// OutcomeDrainedWithErrors means the backlog is drained but records pointed
	// at missing files or files were left behind.
	OutcomeDrainedWithErrors
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomePending:
		return "pending"
	case OutcomeDrainedWithErrors:
		return "drained_with_errors"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result reports one invocation.
type Result struct {
	// Migrated counts the materials imported in this invocation.
	Migrated int `json:"migrated"`
	// PendingCount counts the pending materials that were not attempted
	// because the time budget ran out.
	PendingCount int `json:"pending_count"`
	// NotFoundIDs lists materials whose legacy file is missing. They keep
	// their legacy URI and are attempted again by the next invocation.
	NotFoundIDs []uuid.UUID `json:"not_found_ids"`
	// LeftOverPaths lists files, relative to the legacy root, that remain on
	// disk after the backlog was drained. They are never deleted.
	LeftOverPaths []string `json:"left_over_paths"`
}

// Outcome classifies the result.
func (r *Result) Outcome() Outcome {
	switch {
	case r.PendingCount > 0:
		return OutcomePending
	case len(r.NotFoundIDs) > 0 || len(r.LeftOverPaths) > 0:
		return OutcomeDrainedWithErrors
	default:
		return OutcomeClean
	}
}

// Job imports legacy files for pending FILE materials.
type Job struct {
	store        *materials.Store
	fs           afero.Fs
	root         string
	timeLimit    time.Duration
	safetyMargin time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Job.
type Option func(*Job)

// WithTimeLimit sets the wall-clock limit of one invocation.
func WithTimeLimit(d time.Duration) Option {
	return func(j *Job) {
		j.timeLimit = d
	}
}

// WithSafetyMargin sets how long before the time limit the job stops
// starting new items.
func WithSafetyMargin(d time.Duration) Option {
	return func(j *Job) {
		j.safetyMargin = d
	}
}

// WithClock overrides the time source used for the budget.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		j.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// New creates a Job reading legacy files from root on fsys.
func New(store *materials.Store, fsys afero.Fs, root string, opts ...Option) *Job {
	j := &Job{
		store:        store,
		fs:           fsys,
		root:         filepath.Clean(root),
		timeLimit:    DefaultTimeLimit,
		safetyMargin: DefaultSafetyMargin,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run performs one invocation. Items are processed oldest first until the
// backlog is empty or the budget (time limit minus safety margin, measured
// from the start of Run) is spent. The budget is checked after every item, so
// at least one item is attempted per invocation. Items whose file is missing
// do not stop the run before one item has been migrated, so records that stay
// missing cannot starve the rest of the backlog.
//
// A missing legacy file is recorded and skipped. Any other failure aborts the
// run and is returned together with the partial Result.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	deadline := j.now().Add(j.timeLimit - j.safetyMargin)
	result := &Result{NotFoundIDs: []uuid.UUID{}, LeftOverPaths: []string{}}

	pending, err := j.store.PendingLegacyImports(ctx)
	if err != nil {
		return result, err
	}

	for i, m := range pending {
		if err := ctx.Err(); err != nil {
			result.PendingCount = len(pending) - i
			return result, err
		}

		err := j.migrateOne(ctx, m)
		switch {
		case errors.Is(err, materials.ErrLegacyFileMissing):
			result.NotFoundIDs = append(result.NotFoundIDs, m.ID())
			j.logger.Warn("Legacy file not found", "material_id", m.ID(), "err", err)
		case err != nil:
			result.PendingCount = len(pending) - i - 1
			return result, fmt.Errorf("migrate material %s: %w", m.ID(), err)
		default:
			result.Migrated++
		}

		// Missing files keep their place at the head of the backlog, so they
		// only count against the budget once this run has migrated something.
		if result.Migrated == 0 && errors.Is(err, materials.ErrLegacyFileMissing) {
			continue
		}
		if remaining := len(pending) - i - 1; remaining > 0 && !j.now().Before(deadline) {
			result.PendingCount = remaining
			j.logger.Info("Migration budget exhausted", "migrated", result.Migrated, "pending", remaining)
			return result, nil
		}
	}

	leftovers, err := j.leftovers()
	if err != nil {
		return result, err
	}
	for _, p := range leftovers {
		j.logger.Warn("Left-over legacy file", "path", p)
	}
	result.LeftOverPaths = leftovers

	j.logger.Info("Migration run finished",
		"migrated", result.Migrated,
		"not_found", len(result.NotFoundIDs),
		"left_over", len(result.LeftOverPaths),
		"outcome", result.Outcome().String())
	return result, nil
}

func (j *Job) migrateOne(ctx context.Context, m *materials.Material) error {
	uri, err := m.LegacyURI()
	if err != nil {
		return err
	}

	dir, err := j.resolve(uri)
	if err != nil {
		return err
	}

	name, err := j.firstFile(dir)
	if err != nil {
		return err
	}
	filePath := filepath.Join(dir, name)

	f, err := j.fs.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", filePath, materials.ErrLegacyFileMissing)
	}
	if err != nil {
		return fmt.Errorf("open legacy file: %w", err)
	}

	err = m.ImportLegacyContent(ctx, f, name)
	f.Close()
	if err != nil {
		return err
	}

	// The record no longer points here; a file that cannot be removed is
	// reported by the reconciliation pass.
	if err := j.fs.Remove(filePath); err != nil {
		j.logger.Warn("Failed to remove migrated legacy file", "path", filePath, "err", err)
	} else if empty, err := afero.IsEmpty(j.fs, dir); err == nil && empty && dir != j.root {
		_ = j.fs.Remove(dir)
	}

	j.logger.Info("Legacy material migrated", "material_id", m.ID(), "file", name)
	return nil
}

// resolve maps a legacy URI onto a directory below the root. A URI may carry
// a legacy:// or file:// scheme; the remainder is taken relative to the root.
func (j *Job) resolve(uri string) (string, error) {
	rel := uri
	for _, scheme := range []string{"legacy://", "file://"} {
		if strings.HasPrefix(strings.ToLower(rel), scheme) {
			rel = rel[len(scheme):]
			break
		}
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return "", fmt.Errorf("uri %q names the legacy root: %w", uri, materials.ErrLegacyFileMissing)
	}

	dir := filepath.Join(j.root, filepath.FromSlash(rel))
	if r, err := filepath.Rel(j.root, dir); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("uri %q escapes the legacy root: %w", uri, materials.ErrLegacyFileMissing)
	}
	return dir, nil
}

// firstFile returns the lexically first regular file in dir.
func (j *Job) firstFile(dir string) (string, error) {
	entries, err := afero.ReadDir(j.fs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", dir, materials.ErrLegacyFileMissing)
	}
	if err != nil {
		return "", fmt.Errorf("read legacy directory: %w", err)
	}
	for _, e := range entries {
		if e.Mode().IsRegular() {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("%s has no file: %w", dir, materials.ErrLegacyFileMissing)
}

// leftovers lists every regular file still under the root.
func (j *Job) leftovers() ([]string, error) {
	paths := []string{}
	err := afero.Walk(j.fs, j.root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.Mode().IsRegular() {
			rel, err := filepath.Rel(j.root, p)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan legacy root: %w", err)
	}
	return paths, nil
}
