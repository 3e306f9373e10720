package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/api"
	"github.com/tendant/course-materials/pkg/materials/repo/memory"
	memorystorage "github.com/tendant/course-materials/pkg/materials/storage/memory"
)

func newTestRouter(t *testing.T, apiKeySHA256 string) http.Handler {
	t.Helper()
	store, err := materials.New(
		materials.WithRepository(memory.New()),
		materials.WithChunkBackend(memorystorage.New()),
	)
	require.NoError(t, err)
	router, err := newRouter(api.NewMaterialHandler(store), apiKeySHA256)
	require.NoError(t, err)
	return router
}

func createFolder(t *testing.T, router http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(api.CreateMaterialRequest{Type: "folder", CourseID: uuid.NewString(), Name: "Week 1"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/materials", bytes.NewReader(body)))
	return w
}

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(t, "")

	for _, path := range []string{"/healthz", "/healthz/ready"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouter_MountsMaterialAPI(t *testing.T) {
	router := newTestRouter(t, "")

	w := createFolder(t, router)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/materials/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_APIKeyRequired(t *testing.T) {
	sum := sha256.Sum256([]byte("secret-key"))
	router := newTestRouter(t, hex.EncodeToString(sum[:]))

	w := createFolder(t, router)
	assert.NotEqual(t, http.StatusCreated, w.Code, "request without a key must be rejected")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health checks stay open")
}
