package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediavault/internal/config"
)

const testAPIKey = "test-api-key"

type testResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func setupApp(t *testing.T, extra map[string]string) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	environ := map[string]string{
		"API_KEY":            testAPIKey,
		"UPLOAD_DIR":         t.TempDir(),
		"VIDEO_TRANSCODE":    "off",
		"RECONCILE_INTERVAL": "0",
		"MAX_FILE_SIZE_MB":   "1",
	}
	for k, v := range extra {
		environ[k] = v
	}
	cfg, err := config.Parse(environ)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return a
}

func sqliteLedger() map[string]string {
	return map[string]string{
		"DATABASE_URL": fmt.Sprintf("file:e2e_%s?mode=memory&cache=shared", uuid.NewString()),
	}
}

func uploadRequest(t *testing.T, target, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(a *app, req *http.Request) (*httptest.ResponseRecorder, testResponse) {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var resp testResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestE2E_UploadListFetchDelete(t *testing.T) {
	for name, extra := range map[string]map[string]string{
		"memory ledger": nil,
		"sqlite ledger": sqliteLedger(),
	} {
		t.Run(name, func(t *testing.T) {
			a := setupApp(t, extra)

			req := uploadRequest(t, "/upload", "readme.txt", []byte("hello mediavault"))
			req.Header.Set("X-API-Key", testAPIKey)
			w, resp := serve(a, req)
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			id := resp.Data["id"].(string)
			url := resp.Data["url"].(string)
			assert.Equal(t, float64(16), resp.Data["size_bytes"])

			req = httptest.NewRequest(http.MethodGet, "/list?per_page=5", nil)
			req.Header.Set("Authorization", "Bearer "+testAPIKey)
			w, resp = serve(a, req)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, float64(1), resp.Data["total"])

			// public, no key
			w, _ = serve(a, httptest.NewRequest(http.MethodGet, url, nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "hello mediavault", w.Body.String())

			req = httptest.NewRequest(http.MethodDelete, "/remove/"+id, nil)
			req.Header.Set("X-API-Key", testAPIKey)
			w, _ = serve(a, req)
			assert.Equal(t, http.StatusOK, w.Code)

			w, _ = serve(a, httptest.NewRequest(http.MethodGet, url, nil))
			assert.Equal(t, http.StatusNotFound, w.Code)

			report, err := a.reconciler.Run(context.Background())
			require.NoError(t, err)
			assert.True(t, report.Clean())
		})
	}
}

func TestE2E_RequiresAPIKey(t *testing.T) {
	a := setupApp(t, nil)

	w, resp := serve(a, uploadRequest(t, "/upload", "a.txt", []byte("x")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "AUTH_MISSING", resp.Error.Code)

	req := httptest.NewRequest(http.MethodDelete, "/remove/anything", nil)
	req.Header.Set("X-API-Key", "wrong")
	w, _ = serve(a, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve(a, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = serve(a, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestE2E_OversizedBodyRejected(t *testing.T) {
	a := setupApp(t, nil)

	req := uploadRequest(t, "/upload", "big.bin", bytes.Repeat([]byte{0xAB}, 3<<20))
	req.Header.Set("X-API-Key", testAPIKey)
	w, resp := serve(a, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FILE_TOO_LARGE", resp.Error.Code)
}

func TestE2E_MemoryLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	a := setupApp(t, map[string]string{"UPLOAD_DIR": dir})

	req := uploadRequest(t, "/upload", "keep.txt", []byte("persisted"))
	req.Header.Set("X-API-Key", testAPIKey)
	w, resp := serve(a, req)
	require.Equal(t, http.StatusCreated, w.Code)
	url := resp.Data["url"].(string)

	restarted := setupApp(t, map[string]string{"UPLOAD_DIR": dir})
	w, _ = serve(restarted, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "persisted", w.Body.String())
}
