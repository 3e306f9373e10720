package migrate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/migrate"
	repomemory "github.com/tendant/course-materials/pkg/materials/repo/memory"
	storagememory "github.com/tendant/course-materials/pkg/materials/storage/memory"
)

const root = "/srv/legacy"

var start = time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type fixture struct {
	store  *materials.Store
	fs     afero.Fs
	course uuid.UUID
	added  int
}

func newFixture(t *testing.T, backend materials.ChunkBackend) *fixture {
	t.Helper()
	if backend == nil {
		backend = storagememory.New()
	}
	store, err := materials.New(
		materials.WithRepository(repomemory.New()),
		materials.WithChunkBackend(backend),
		materials.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return &fixture{store: store, fs: afero.NewMemMapFs(), course: uuid.New()}
}

// pending creates a FILE material pointing at uri, added after every earlier one.
func (f *fixture) pending(t *testing.T, uri string) uuid.UUID {
	t.Helper()
	m, err := f.store.Create(materials.TypeFile)
	require.NoError(t, err)
	require.NoError(t, m.SetCourseID(f.course))
	require.NoError(t, m.SetLegacyURI(uri))
	m.SetAddTime(start.Add(time.Duration(f.added) * time.Hour))
	f.added++
	require.NoError(t, m.Save(context.Background()))
	return m.ID()
}

func (f *fixture) file(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, p, []byte(content), 0644))
}

func (f *fixture) job(opts ...migrate.Option) *migrate.Job {
	opts = append([]migrate.Option{migrate.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return migrate.New(f.store, f.fs, root, opts...)
}

func (f *fixture) content(t *testing.T, id uuid.UUID) string {
	t.Helper()
	m, err := f.store.Load(id).EnsureLoaded(context.Background())
	require.NoError(t, err)
	stream, err := m.OpenContentForRead(context.Background())
	require.NoError(t, err)
	defer stream.Close()
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	return string(data)
}

func TestRun_Clean(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := f.pending(t, "legacy://course-1/a")
	b := f.pending(t, "file://course-1/b")
	c := f.pending(t, "course-2/c")
	f.file(t, root+"/course-1/a/Syllabus.PDF", "%PDF-1.4 syllabus")
	f.file(t, root+"/course-1/b/notes.txt", "plain notes")
	f.file(t, root+"/course-2/c/2-second.doc", "second")
	f.file(t, root+"/course-2/c/1-first.doc", "first")

	result, err := f.job().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Migrated)
	assert.Equal(t, 0, result.PendingCount)
	assert.Empty(t, result.NotFoundIDs)
	// The second file in c's directory was never referenced.
	assert.Equal(t, []string{"course-2/c/2-second.doc"}, result.LeftOverPaths)
	assert.Equal(t, migrate.OutcomeDrainedWithErrors, result.Outcome())

	assert.Equal(t, "%PDF-1.4 syllabus", f.content(t, a))
	assert.Equal(t, "plain notes", f.content(t, b))
	assert.Equal(t, "first", f.content(t, c))

	m, err := f.store.Load(a).EnsureLoaded(ctx)
	require.NoError(t, err)
	mimeType, err := m.MimeType()
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mimeType)
	uri, err := m.LegacyURI()
	require.NoError(t, err)
	assert.Empty(t, uri)
	size, err := m.SizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.4 syllabus")), size)

	exists, err := afero.DirExists(f.fs, root+"/course-1/a")
	require.NoError(t, err)
	assert.False(t, exists, "emptied legacy directory is removed")

	// Left-over files are reported, never deleted.
	exists, err = afero.Exists(f.fs, root+"/course-2/c/2-second.doc")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.pending(t, "legacy://x")
	f.file(t, root+"/x/file.txt", "x")

	result, err := f.job().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrate.OutcomeClean, result.Outcome())
	assert.Equal(t, 1, result.Migrated)

	result, err = f.job().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrate.OutcomeClean, result.Outcome())
	assert.Equal(t, 0, result.Migrated)
}

func TestRun_MissingFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	noDir := f.pending(t, "legacy://gone")
	emptyDir := f.pending(t, "legacy://empty")
	escaping := f.pending(t, "legacy://../../etc")
	ok := f.pending(t, "legacy://present")
	require.NoError(t, f.fs.MkdirAll(root+"/empty", 0755))
	f.file(t, root+"/present/readme.md", "# readme")

	result, err := f.job().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Migrated)
	assert.Equal(t, []uuid.UUID{noDir, emptyDir, escaping}, result.NotFoundIDs)
	assert.Empty(t, result.LeftOverPaths)
	assert.Equal(t, migrate.OutcomeDrainedWithErrors, result.Outcome())
	assert.Equal(t, "# readme", f.content(t, ok))

	// Not-found records keep their URI and are retried.
	pending, err := f.store.PendingLegacyImports(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	f.file(t, root+"/gone/late.txt", "arrived late")
	result, err = f.job().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Migrated)
	assert.Equal(t, []uuid.UUID{emptyDir, escaping}, result.NotFoundIDs)
	assert.Equal(t, "arrived late", f.content(t, noDir))
}

func TestRun_TimeBudget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		dir := string(rune('a' + i))
		ids[i] = f.pending(t, "legacy://"+dir)
		f.file(t, root+"/"+dir+"/data.bin", dir)
	}

	// Budget is 30s - 5s = 25s; every item costs 10s on this clock.
	clock := &stepClock{now: start, step: 10 * time.Second}
	job := f.job(
		migrate.WithTimeLimit(30*time.Second),
		migrate.WithSafetyMargin(5*time.Second),
		migrate.WithClock(clock.Now),
	)

	result, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Migrated)
	assert.Equal(t, 2, result.PendingCount)
	assert.Equal(t, migrate.OutcomePending, result.Outcome())
	assert.Empty(t, result.LeftOverPaths, "reconciliation only runs once the backlog is drained")

	// Oldest first.
	assert.Equal(t, "a", f.content(t, ids[0]))
	pending, err := f.store.PendingLegacyImports(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[3], pending[0].ID())

	result, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Migrated)
	assert.Equal(t, 0, result.PendingCount)
	assert.Equal(t, migrate.OutcomeClean, result.Outcome())
}

func TestRun_AlwaysAttemptsOneItem(t *testing.T) {
	f := newFixture(t, nil)
	f.pending(t, "legacy://a")
	f.pending(t, "legacy://b")
	f.file(t, root+"/a/1.txt", "1")
	f.file(t, root+"/b/2.txt", "2")

	clock := &stepClock{now: start, step: time.Minute}
	result, err := f.job(migrate.WithClock(clock.Now)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Migrated)
	assert.Equal(t, 1, result.PendingCount)
}

func TestRun_MissingFilesDoNotStarveBacklog(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// The oldest records point at files that never appear.
	var missing []uuid.UUID
	for _, dir := range []string{"gone-1", "gone-2", "gone-3"} {
		missing = append(missing, f.pending(t, "legacy://"+dir))
	}
	first := f.pending(t, "legacy://a")
	second := f.pending(t, "legacy://b")
	f.file(t, root+"/a/1.txt", "1")
	f.file(t, root+"/b/2.txt", "2")

	// Every budget check finds the budget spent.
	clock := &stepClock{now: start, step: time.Minute}
	job := f.job(migrate.WithClock(clock.Now))

	result, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Migrated)
	assert.Equal(t, 1, result.PendingCount)
	assert.Equal(t, missing, result.NotFoundIDs)
	assert.Equal(t, "1", f.content(t, first))

	result, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Migrated)
	assert.Equal(t, 0, result.PendingCount)
	assert.Equal(t, missing, result.NotFoundIDs)
	assert.Equal(t, migrate.OutcomeDrainedWithErrors, result.Outcome())
	assert.Equal(t, "2", f.content(t, second))
}

type brokenBackend struct {
	*storagememory.Backend
}

func (brokenBackend) WriteChunk(context.Context, materials.StageKey, []byte, materials.WriteMode) error {
	return errors.New("disk quota exceeded")
}

func TestRun_StorageFaultAborts(t *testing.T) {
	f := newFixture(t, brokenBackend{storagememory.New()})
	ctx := context.Background()

	first := f.pending(t, "legacy://a")
	f.pending(t, "legacy://b")
	f.file(t, root+"/a/1.txt", "1")
	f.file(t, root+"/b/2.txt", "2")

	result, err := f.job().Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, materials.ErrStorageUnavailable))
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Migrated)
	assert.Equal(t, 1, result.PendingCount)

	// Nothing was lost: the record still points at its file.
	m, err := f.store.Load(first).EnsureLoaded(ctx)
	require.NoError(t, err)
	uri, err := m.LegacyURI()
	require.NoError(t, err)
	assert.Equal(t, "legacy://a", uri)
	exists, err := afero.Exists(f.fs, root+"/a/1.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_EmptyBacklogWithMissingRoot(t *testing.T) {
	f := newFixture(t, nil)
	result, err := f.job().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrate.OutcomeClean, result.Outcome())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "clean", migrate.OutcomeClean.String())
	assert.Equal(t, "pending", migrate.OutcomePending.String())
	assert.Equal(t, "drained_with_errors", migrate.OutcomeDrainedWithErrors.String())
}
