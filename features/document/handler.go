package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pagechat/internal/apperr"
	"pagechat/internal/middleware"
)

type Handler struct {
	service   *Service
	uploadDir string
	maxUpload int64
}

func NewHandler(service *Service, uploadDir string, maxUploadMB int64) *Handler {
	return &Handler{service: service, uploadDir: uploadDir, maxUpload: maxUploadMB << 20}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "URL is required", http.StatusBadRequest)
		return
	}

	d, err := h.service.Create(r.Context(), middleware.UserID(r.Context()), Kind(req.Kind), req.URL, req.Name)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusCreated, map[string]interface{}{"data": d})
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Only PDF uploads are supported", http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil { // #nosec G703 -- upload dir comes from config
		slog.ErrorContext(r.Context(), "failed to create upload directory", "error", err, "path", filepath.Clean(h.uploadDir))
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	path := filepath.Clean(filepath.Join(h.uploadDir, fmt.Sprintf("%s.pdf", uuid.New().String())))
	dst, err := os.Create(path) // #nosec G304 -- path is UUID-based
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create file", "error", err, "path", path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}
	_, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		h.removeUpload(r.Context(), path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to write file", http.StatusInternalServerError)
		return
	}

	d, err := h.service.Upload(r.Context(), middleware.UserID(r.Context()), path, name)
	if err != nil {
		h.removeUpload(r.Context(), path)
		h.fail(r.Context(), w, err)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusCreated, map[string]interface{}{"data": d})
}

func (h *Handler) removeUpload(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil { // #nosec G703 -- path is UUID-based
		slog.WarnContext(ctx, "failed to clean up uploaded file", "error", err, "path", path)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": d})
}

// Status is the lightweight endpoint clients poll while ingestion runs.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"data": map[string]string{"status": string(d.Status), "reason": d.FailureReason},
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.UserID(r.Context()), r.PathValue("id")); err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "operation failed", "error", err)
		msg = "Internal Server Error"
	}
	if errors.Is(err, apperr.ErrDocumentNotFound) {
		msg = "Document not found"
	}
	h.writeError(ctx, w, code, msg, status)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
