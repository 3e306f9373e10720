package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/migrate"
	"github.com/tendant/course-materials/pkg/materials/mimecatalog"
	"github.com/tendant/course-materials/pkg/utils"
)

// maxUploadMemory is the part of a multipart upload kept in memory; the rest
// spills to temporary files.
const maxUploadMemory = 8 << 20

// MaterialHandler serves course materials over HTTP.
type MaterialHandler struct {
	store  *materials.Store
	job    *migrate.Job
	jobMu  sync.Mutex
	logger *slog.Logger
}

// HandlerOption configures a MaterialHandler.
type HandlerOption func(*MaterialHandler)

// WithMigrationJob enables the migration endpoint.
func WithMigrationJob(job *migrate.Job) HandlerOption {
	return func(h *MaterialHandler) {
		h.job = job
	}
}

// WithHandlerLogger sets the logger used for request errors.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *MaterialHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewMaterialHandler creates a new material handler
func NewMaterialHandler(store *materials.Store, opts ...HandlerOption) *MaterialHandler {
	h := &MaterialHandler{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the routes for materials
func (h *MaterialHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/materials", h.CreateMaterial)
	r.Get("/materials/{id}", h.GetMaterial)
	r.Delete("/materials/{id}", h.DeleteMaterial)
	r.Put("/materials/{id}/parent", h.MoveMaterial)

	// File content
	r.Get("/materials/{id}/content", h.DownloadContent)
	r.Put("/materials/{id}/content", h.UploadContent)

	r.Get("/courses/{course_id}/materials", h.ListChildren)

	r.Post("/migrations", h.RunMigration)

	return r
}

// CreateMaterialRequest is the request body for creating a material
type CreateMaterialRequest struct {
	Type        string `json:"type"`
	CourseID    string `json:"course_id"`
	ParentID    string `json:"parent_id,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"` // file
	URI         string `json:"uri,omitempty"`       // link
	Body        string `json:"body,omitempty"`      // text, embed
}

// MoveMaterialRequest is the request body for moving a material. A null
// parent_id moves it to the course root.
type MoveMaterialRequest struct {
	ParentID *string `json:"parent_id"`
}

// MaterialResponse is the response body for a material
type MaterialResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	CourseID    string    `json:"course_id"`
	ParentID    string    `json:"parent_id,omitempty"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AddTime     time.Time `json:"add_time"`
	CSSClass    string    `json:"css_class"`
	MimeType    string    `json:"mime_type,omitempty"`
	SizeBytes   *int64    `json:"size_bytes,omitempty"`
	HumanSize   string    `json:"human_size,omitempty"`
	URI         string    `json:"uri,omitempty"`
	Pending     bool      `json:"pending_import,omitempty"`
	Body        *string   `json:"body,omitempty"`
}

// DeleteMaterialResponse reports how many rows a cascade removed.
type DeleteMaterialResponse struct {
	Deleted int `json:"deleted"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateMaterial creates a new material
func (h *MaterialHandler) CreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req CreateMaterialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}

	typ, err := materials.ParseType(req.Type)
	if err != nil {
		h.writeError(w, r, "Invalid material type", err)
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		h.badRequest(w, r, "Invalid course ID", err)
		return
	}

	m, err := h.store.Create(typ)
	if err != nil {
		h.writeError(w, r, "Failed to create material", err)
		return
	}
	m.SetName(req.Name)
	m.SetDescription(req.Description)
	if err := m.SetCourseID(courseID); err != nil {
		h.writeError(w, r, "Failed to set course", err)
		return
	}
	if req.OwnerID != "" {
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			h.badRequest(w, r, "Invalid owner ID", err)
			return
		}
		m.SetOwnerID(ownerID)
	}

	if req.ParentID != "" {
		parent, ok := h.loadByParam(w, r, req.ParentID)
		if !ok {
			return
		}
		if err := m.SetParent(r.Context(), parent); err != nil {
			h.writeError(w, r, "Invalid parent", err)
			return
		}
	}

	if err := applyVariantFields(m, req); err != nil {
		h.writeError(w, r, "Invalid material fields", err)
		return
	}

	if err := m.Save(r.Context()); err != nil {
		h.writeError(w, r, "Failed to save material", err)
		return
	}

	h.logger.Info("Material created", "material_id", m.ID(), "type", m.Type(), "course_id", courseID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.toResponse(r, m, false))
}

// applyVariantFields copies the variant specific fields of req. A field sent
// for a variant that does not carry it fails with ErrInvalidVariant.
func applyVariantFields(m *materials.Material, req CreateMaterialRequest) error {
	if req.MimeType != "" {
		if err := m.SetMimeType(req.MimeType); err != nil {
			return err
		}
	}
	if req.URI != "" {
		if err := m.SetURI(req.URI); err != nil {
			return err
		}
	}
	if req.Body != "" {
		if err := m.SetBody(req.Body); err != nil {
			return err
		}
	}
	return nil
}

// GetMaterial returns the metadata of a material; TEXT and EMBED include their body
func (h *MaterialHandler) GetMaterial(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadByParam(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	render.JSON(w, r, h.toResponse(r, m, true))
}

// ListChildren lists the direct children of parent_id, or the course root when absent
func (h *MaterialHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	courseID, err := uuid.Parse(chi.URLParam(r, "course_id"))
	if err != nil {
		h.badRequest(w, r, "Invalid course ID", err)
		return
	}

	var parentID *uuid.UUID
	if raw := r.URL.Query().Get("parent_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.badRequest(w, r, "Invalid parent ID", err)
			return
		}
		parentID = &id
	}

	children, err := h.store.Children(r.Context(), courseID, parentID)
	if err != nil {
		h.writeError(w, r, "Failed to list materials", err)
		return
	}

	resp := make([]MaterialResponse, 0, len(children))
	for _, m := range children {
		resp = append(resp, h.toResponse(r, m, false))
	}
	render.JSON(w, r, resp)
}

// MoveMaterial relocates a material under another folder of the same course
func (h *MaterialHandler) MoveMaterial(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadByParam(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req MoveMaterialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "Invalid request body", err)
		return
	}

	var parent *materials.Material
	if req.ParentID != nil && *req.ParentID != "" {
		if parent, ok = h.loadByParam(w, r, *req.ParentID); !ok {
			return
		}
	}

	if err := h.store.Move(r.Context(), m, parent); err != nil {
		h.writeError(w, r, "Failed to move material", err)
		return
	}
	render.JSON(w, r, h.toResponse(r, m, false))
}

// DeleteMaterial deletes a material and everything below it
func (h *MaterialHandler) DeleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.badRequest(w, r, "Invalid material ID", err)
		return
	}

	deleted, err := h.store.DeleteTree(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to delete material", err)
		return
	}

	h.logger.Info("Material deleted", "material_id", id, "deleted", deleted)
	render.JSON(w, r, DeleteMaterialResponse{Deleted: deleted})
}

// DownloadContent streams the content of a FILE
func (h *MaterialHandler) DownloadContent(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadByParam(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	stream, err := m.OpenContentForRead(r.Context())
	if err != nil {
		h.writeError(w, r, "Failed to open content", err)
		return
	}
	defer stream.Close()

	mimeType, _ := m.MimeType()
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	size, _ := m.SizeBytes()

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", utils.ContentDisposition(m.Name()))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stream); err != nil {
		// Headers are already sent.
		h.logger.Error("Failed to stream content", "material_id", m.ID(), "err", err)
	}
}

// UploadContent replaces the content of a FILE with the multipart "file" field
func (h *MaterialHandler) UploadContent(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadByParam(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.badRequest(w, r, "Invalid multipart form", err)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove upload temp files", "material_id", m.ID(), "err", err)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.badRequest(w, r, "Missing file field", err)
		return
	}
	defer file.Close()

	if m.Type() == materials.TypeFile {
		if mimeType := h.uploadMimeType(header); mimeType != "" {
			_ = m.SetMimeType(mimeType)
		}
	}

	if err := m.LoadContentFrom(r.Context(), file); err != nil {
		h.writeError(w, r, "Failed to upload content", err)
		return
	}

	h.logger.Info("Content uploaded", "material_id", m.ID(), "filename", header.Filename)
	render.JSON(w, r, h.toResponse(r, m, false))
}

// uploadMimeType names the type of an uploaded part from its filename, then
// its declared Content-Type. Empty means the content is sniffed.
func (h *MaterialHandler) uploadMimeType(header *multipart.FileHeader) string {
	if mimeType := h.store.Catalog().TypeForFilename(header.Filename); mimeType != mimecatalog.DefaultType {
		return mimeType
	}
	declared, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || declared == mimecatalog.DefaultType {
		return ""
	}
	return declared
}

// RunMigration runs one bounded legacy import pass
func (h *MaterialHandler) RunMigration(w http.ResponseWriter, r *http.Request) {
	if h.job == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Error: "migration is not configured"})
		return
	}
	if !h.jobMu.TryLock() {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{Error: "migration already running"})
		return
	}
	defer h.jobMu.Unlock()

	result, err := h.job.Run(r.Context())
	if err != nil {
		h.writeError(w, r, "Migration failed", err)
		return
	}
	render.JSON(w, r, result)
}

func (h *MaterialHandler) loadByParam(w http.ResponseWriter, r *http.Request, raw string) (*materials.Material, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		h.badRequest(w, r, "Invalid material ID", err)
		return nil, false
	}
	m, err := h.store.Load(id).EnsureLoaded(r.Context())
	if err != nil {
		h.writeError(w, r, "Failed to load material", err)
		return nil, false
	}
	return m, true
}

func (h *MaterialHandler) toResponse(r *http.Request, m *materials.Material, withBody bool) MaterialResponse {
	resp := MaterialResponse{
		ID:          m.ID().String(),
		Type:        string(m.Type()),
		CourseID:    m.CourseID().String(),
		OwnerID:     m.OwnerID().String(),
		Name:        m.Name(),
		Description: m.Description(),
		AddTime:     m.AddTime(),
		CSSClass:    m.CSSClass(),
	}
	if parentID := m.ParentID(); parentID != nil {
		resp.ParentID = parentID.String()
	}

	switch m.Type() {
	case materials.TypeFile:
		resp.MimeType, _ = m.MimeType()
		size, _ := m.SizeBytes()
		resp.SizeBytes = &size
		resp.HumanSize, _ = m.HumanSize()
		legacy, _ := m.LegacyURI()
		resp.Pending = legacy != ""
	case materials.TypeLink:
		resp.URI, _ = m.URI()
	case materials.TypeText, materials.TypeEmbed:
		if withBody {
			body, err := m.Body(r.Context())
			if err != nil {
				h.logger.Error("Failed to read material body", "material_id", m.ID(), "err", err)
			} else {
				resp.Body = &body
			}
		}
	}
	return resp
}

func (h *MaterialHandler) badRequest(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "err", err)
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: fmt.Sprintf("%s: %v", msg, err)})
}

func (h *MaterialHandler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "err", err)
	} else {
		h.logger.Warn(msg, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: fmt.Sprintf("%s: %v", msg, err)})
}

// StatusFor maps a material error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, materials.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, materials.ErrInvalidVariant),
		errors.Is(err, materials.ErrInvalidParent),
		errors.Is(err, materials.ErrCourseImmutable),
		errors.Is(err, materials.ErrNotPersisted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, materials.ErrDuplicateConstraint):
		return http.StatusConflict
	case errors.Is(err, materials.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
