package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagechat/internal/config"
	"pagechat/internal/middleware"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		ChunkSize:            200,
		ChunkOverlap:         50,
		IngestMaxAttempts:    3,
		IngestTimeoutSeconds: 30,
		EmbedConcurrency:     2,
		EmbedRatePerSecond:   5,
		FetchMaxBytes:        1 << 20,
		ServerPort:           8081,
		QueryLogPath:         filepath.Join(t.TempDir(), "logs", "query.log"),
		MaxUploadSizeMB:      5,
		UploadDir:            t.TempDir(),
	}
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	// Seeding fails against the empty mock; New only warns about it.
	app, err := New(testConfig(t), db, &MockVectorStore{}, nopPublisher{}, logger, nil)
	require.NoError(t, err)
	assert.NotNil(t, app.Handler)
	assert.NotNil(t, app.Documents)
	assert.NotNil(t, app.Engine)
	assert.NotNil(t, app.Pipeline)
	assert.NotNil(t, app.IngestConsumer)

	t.Run("Health is public", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("API requires a user", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/documents", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHENTICATED")
		assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	})

	t.Run("Messages of unknown document", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/documents/not-a-uuid/messages", nil)
		req.Header.Set(middleware.HeaderUserID, "u1")
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "NOT_FOUND")
	})

	t.Run("CORS headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/documents", nil))
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestNew_InvalidChunking(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t)
	cfg.ChunkOverlap = cfg.ChunkSize

	_, err = New(cfg, db, &MockVectorStore{}, nopPublisher{}, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)
	assert.Error(t, err)
}
