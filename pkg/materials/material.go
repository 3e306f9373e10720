package materials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/tendant/course-materials/pkg/materials/mimecatalog"
	"github.com/tendant/course-materials/pkg/materials/sizefmt"
)

// sniffLen is the prefix handed to content detection.
const sniffLen = 3072

// Material is a node of a course's content tree. One struct covers every
// variant; accessors for fields a variant does not carry fail with
// ErrInvalidVariant.
type Material struct {
	store     *Store
	rec       Record
	persisted bool
	body      *string

	// mimeTypeSet marks a MIME type set by the caller for the next content
	// load; without it the type is derived from the new content.
	mimeTypeSet bool
}

// ID returns the store-assigned id, or uuid.Nil for a transient material.
func (m *Material) ID() uuid.UUID {
	if !m.persisted {
		return uuid.Nil
	}
	return m.rec.ID
}

// Type returns the variant.
func (m *Material) Type() Type { return m.rec.Type }

// IsPersisted reports whether the material has a row in the repository.
func (m *Material) IsPersisted() bool { return m.persisted }

// Record returns a copy of the current metadata.
func (m *Material) Record() Record { return *m.rec.Clone() }

func (m *Material) Name() string        { return m.rec.Name }
func (m *Material) SetName(name string) { m.rec.Name = name }

func (m *Material) Description() string        { return m.rec.Description }
func (m *Material) SetDescription(desc string) { m.rec.Description = desc }

func (m *Material) OwnerID() uuid.UUID        { return m.rec.OwnerID }
func (m *Material) SetOwnerID(owner uuid.UUID) { m.rec.OwnerID = owner }

func (m *Material) AddTime() time.Time     { return m.rec.AddTime }
func (m *Material) SetAddTime(t time.Time) { m.rec.AddTime = t }

func (m *Material) CourseID() uuid.UUID { return m.rec.CourseID }

// SetCourseID assigns the owning course. The course is fixed once saved.
func (m *Material) SetCourseID(course uuid.UUID) error {
	if m.persisted && course != m.rec.CourseID {
		return &MaterialError{ID: m.rec.ID, Op: "set_course", Err: ErrCourseImmutable}
	}
	m.rec.CourseID = course
	return nil
}

// ParentID returns the parent folder id, or nil for the course root.
func (m *Material) ParentID() *uuid.UUID {
	if m.rec.ParentID == nil {
		return nil
	}
	p := *m.rec.ParentID
	return &p
}

// AddedBy returns the owner when it differs from the course teacher.
func (m *Material) AddedBy(teacherID uuid.UUID) (uuid.UUID, bool) {
	if m.rec.OwnerID == uuid.Nil || m.rec.OwnerID == teacherID {
		return uuid.Nil, false
	}
	return m.rec.OwnerID, true
}

func (m *Material) requireType(op string, types ...Type) error {
	for _, t := range types {
		if m.rec.Type == t {
			return nil
		}
	}
	return &MaterialError{ID: m.rec.ID, Op: op, Err: fmt.Errorf("%w: %s has no %s", ErrInvalidVariant, m.rec.Type, strings.TrimPrefix(strings.TrimPrefix(op, "get_"), "set_"))}
}

// MimeType returns the MIME type of a FILE.
func (m *Material) MimeType() (string, error) {
	if err := m.requireType("get_mime_type", TypeFile); err != nil {
		return "", err
	}
	return m.rec.MimeType, nil
}

// SetMimeType sets the MIME type of a FILE. A type set before
// LoadContentFrom is kept for that load instead of being detected.
func (m *Material) SetMimeType(mimeType string) error {
	if err := m.requireType("set_mime_type", TypeFile); err != nil {
		return err
	}
	m.rec.MimeType = mimeType
	m.mimeTypeSet = true
	return nil
}

// SizeBytes returns the stored size of a FILE as of the last save. It has no
// setter: Save derives it from the content store.
func (m *Material) SizeBytes() (int64, error) {
	if err := m.requireType("get_size", TypeFile); err != nil {
		return 0, err
	}
	return m.rec.SizeBytes, nil
}

// HumanSize formats SizeBytes for display.
func (m *Material) HumanSize() (string, error) {
	n, err := m.SizeBytes()
	if err != nil {
		return "", err
	}
	return sizefmt.HumanReadable(n), nil
}

// CSSClass returns the display class tag: the catalog class for a FILE, the
// variant name otherwise.
func (m *Material) CSSClass() string {
	if m.rec.Type != TypeFile {
		return string(m.rec.Type)
	}
	return m.store.catalog.CSSClass(m.rec.MimeType)
}

// URI returns the target of a LINK.
func (m *Material) URI() (string, error) {
	if err := m.requireType("get_uri", TypeLink); err != nil {
		return "", err
	}
	return m.rec.URI, nil
}

// SetURI sets the target of a LINK.
func (m *Material) SetURI(uri string) error {
	if err := m.requireType("set_uri", TypeLink); err != nil {
		return err
	}
	m.rec.URI = uri
	return nil
}

// LegacyURI returns the on-disk location of a FILE still pending legacy import.
func (m *Material) LegacyURI() (string, error) {
	if err := m.requireType("get_legacy_uri", TypeFile); err != nil {
		return "", err
	}
	return m.rec.URI, nil
}

// SetLegacyURI marks a FILE as pending legacy import.
func (m *Material) SetLegacyURI(uri string) error {
	if err := m.requireType("set_legacy_uri", TypeFile); err != nil {
		return err
	}
	m.rec.URI = uri
	return nil
}

// Body returns the inline text of a TEXT or EMBED material.
func (m *Material) Body(ctx context.Context) (string, error) {
	if err := m.requireType("get_body", TypeText, TypeEmbed); err != nil {
		return "", err
	}
	if m.body != nil {
		return *m.body, nil
	}
	if !m.persisted {
		return "", nil
	}

	stream, err := m.store.content.OpenRead(ctx, m.rec.ID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", &MaterialError{ID: m.rec.ID, Op: "get_body", Err: err}
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return "", &MaterialError{ID: m.rec.ID, Op: "get_body", Err: err}
	}
	return string(data), nil
}

// SetBody replaces the inline text of a TEXT or EMBED material. It is written
// to the content store on the next Save.
func (m *Material) SetBody(body string) error {
	if err := m.requireType("set_body", TypeText, TypeEmbed); err != nil {
		return err
	}
	m.body = &body
	return nil
}

// Parent loads the parent folder, or returns nil for the course root.
func (m *Material) Parent(ctx context.Context) (*Material, error) {
	if m.rec.ParentID == nil {
		return nil, nil
	}
	return m.store.Load(*m.rec.ParentID).EnsureLoaded(ctx)
}

// SetParent moves the material under parent, or to the course root when
// parent is nil. The parent must be a saved FOLDER of the same course and not
// the material itself or one of its descendants. Nothing is persisted until
// Save.
func (m *Material) SetParent(ctx context.Context, parent *Material) error {
	if parent == nil {
		m.rec.ParentID = nil
		return nil
	}

	invalid := func(format string, args ...any) error {
		return &MaterialError{ID: m.rec.ID, Op: "set_parent", Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidParent}, args...)...)}
	}

	if parent.rec.Type != TypeFolder {
		return invalid("%s is a %s, not a folder", parent.rec.Name, parent.rec.Type)
	}
	if !parent.persisted {
		return invalid("parent folder is not saved")
	}
	if !m.persisted && m.rec.CourseID == uuid.Nil {
		m.rec.CourseID = parent.rec.CourseID
	}
	if parent.rec.CourseID != m.rec.CourseID {
		return invalid("folder %s belongs to another course", parent.rec.ID)
	}

	if m.persisted {
		if parent.rec.ID == m.rec.ID {
			return invalid("material cannot be its own parent")
		}
		ancestors, err := m.store.repo.Ancestors(ctx, parent.rec.ID)
		if err != nil {
			return &MaterialError{ID: m.rec.ID, Op: "set_parent", Err: err}
		}
		for _, id := range ancestors {
			if id == m.rec.ID {
				return invalid("folder %s is inside %s", parent.rec.ID, m.rec.ID)
			}
		}
	}

	pid := parent.rec.ID
	m.rec.ParentID = &pid
	return nil
}

// Save inserts the material, assigning its id on first save, or updates the
// existing row. For a FILE the size is re-derived from the stored content.
func (m *Material) Save(ctx context.Context) error {
	rec := m.rec.Clone()

	if !m.persisted {
		if rec.CourseID == uuid.Nil {
			return &MaterialError{Op: "save", Err: errors.New("course is required")}
		}
		rec.ID = uuid.New()
		if rec.AddTime.IsZero() {
			rec.AddTime = m.store.now().UTC()
		}
	} else if rec.Type == TypeFile {
		size, err := m.store.content.Size(ctx, rec.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			size = 0
		case err != nil:
			return &MaterialError{ID: rec.ID, Op: "save", Err: err}
		}
		rec.SizeBytes = size
	}

	if m.body != nil {
		if _, err := m.store.content.WriteFrom(ctx, rec.ID, strings.NewReader(*m.body)); err != nil {
			return &MaterialError{ID: rec.ID, Op: "save_body", Err: err}
		}
	}

	if m.persisted {
		if err := m.store.repo.UpdateMaterial(ctx, rec); err != nil {
			return &MaterialError{ID: rec.ID, Op: "update", Err: err}
		}
	} else {
		if err := m.store.repo.CreateMaterial(ctx, rec); err != nil {
			if m.body != nil {
				m.releaseContent(ctx, rec.ID)
			}
			return &MaterialError{ID: rec.ID, Op: "create", Err: err}
		}
	}

	m.rec = *rec
	m.persisted = true
	m.body = nil
	return nil
}

// Delete removes this single row and releases its content. It does not
// cascade: a folder that still has children fails with ErrInvalidParent, use
// Store.DeleteTree instead. It reports whether a row existed.
func (m *Material) Delete(ctx context.Context) (bool, error) {
	if !m.persisted {
		return false, &MaterialError{Op: "delete", Err: ErrNotPersisted}
	}
	existed, err := m.store.deleteOne(ctx, m.rec.ID, m.rec.Type)
	if err != nil {
		return false, err
	}
	m.persisted = false
	return existed, nil
}

// LoadContentFrom replaces the content of a FILE with src and saves the
// material so that SizeBytes matches the stored bytes. A transient material is
// saved first so the content has an owner id; if the content cannot be stored
// that row is removed again and the material stays transient.
//
// The MIME type is detected from the leading bytes of every new content unless
// SetMimeType was called since the last load. It changes only once the
// content is stored.
func (m *Material) LoadContentFrom(ctx context.Context, src io.Reader) error {
	if err := m.requireType("load_content", TypeFile); err != nil {
		return err
	}

	created := !m.persisted
	before := m.rec
	if created {
		if err := m.Save(ctx); err != nil {
			return err
		}
	}

	mimeType := m.rec.MimeType
	if !m.mimeTypeSet || mimeType == "" || mimeType == mimecatalog.DefaultType {
		src, mimeType = sniffType(src)
	}

	if _, err := m.store.content.WriteFrom(ctx, m.rec.ID, src); err != nil {
		err = &MaterialError{ID: m.rec.ID, Op: "load_content", Err: err}
		if created {
			m.undoCreate(ctx, before)
		}
		return err
	}

	m.rec.MimeType = mimeType
	m.mimeTypeSet = false
	if err := m.Save(ctx); err != nil {
		if created {
			m.undoCreate(ctx, before)
		}
		return err
	}
	return nil
}

// undoCreate removes the row and content saved for a transient material and
// restores its transient state.
func (m *Material) undoCreate(ctx context.Context, before Record) {
	id := m.rec.ID
	if _, err := m.store.deleteOne(context.WithoutCancel(ctx), id, TypeFile); err != nil {
		m.store.logger.Warn("Failed to remove material after failed content load", "material_id", id, "err", err)
	}
	m.rec = before
	m.persisted = false
}

// OpenContentForRead opens the content of a FILE for streaming.
func (m *Material) OpenContentForRead(ctx context.Context) (*ContentStream, error) {
	if err := m.requireType("open_content", TypeFile); err != nil {
		return nil, err
	}
	if !m.persisted {
		return nil, &MaterialError{Op: "open_content", Err: ErrNotPersisted}
	}
	stream, err := m.store.content.OpenRead(ctx, m.rec.ID)
	if err != nil {
		return nil, &MaterialError{ID: m.rec.ID, Op: "open_content", Err: err}
	}
	return stream, nil
}

// ImportLegacyContent stores src as the content of a FILE pending legacy
// import, takes the MIME type from filename, clears the legacy URI and saves.
// The URI is cleared only after the content write succeeded.
func (m *Material) ImportLegacyContent(ctx context.Context, src io.Reader, filename string) error {
	if err := m.requireType("import_legacy", TypeFile); err != nil {
		return err
	}
	if !m.persisted {
		return &MaterialError{Op: "import_legacy", Err: ErrNotPersisted}
	}

	mimeType := m.store.catalog.TypeForFilename(filename)
	if mimeType == mimecatalog.DefaultType {
		src, mimeType = sniffType(src)
	}

	if _, err := m.store.content.WriteFrom(ctx, m.rec.ID, src); err != nil {
		return &MaterialError{ID: m.rec.ID, Op: "import_legacy", Err: err}
	}

	m.rec.MimeType = mimeType
	m.mimeTypeSet = false
	m.rec.URI = ""
	return m.Save(ctx)
}

// sniffType peeks at the head of src and returns a reader that still yields
// every byte, together with the detected MIME type.
func sniffType(src io.Reader) (io.Reader, string) {
	br := bufio.NewReaderSize(src, sniffLen)
	head, _ := br.Peek(sniffLen)
	detected, _, _ := strings.Cut(mimetype.Detect(head).String(), ";")
	return br, strings.TrimSpace(detected)
}

func (m *Material) releaseContent(ctx context.Context, id uuid.UUID) {
	if err := m.store.content.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		m.store.logger.Warn("Failed to release content", "material_id", id, "err", err)
	}
}
