package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"pagechat/internal/middleware"
)

// Counter is satisfied by the document, job and conversation stores.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type ChunkCounter interface {
	CountChunks(ctx context.Context) (int, error)
}

type Handler struct {
	documents  Counter
	messages   Counter
	failedJobs Counter
	chunks     ChunkCounter
}

func NewHandler(documents, messages, failedJobs Counter, chunks ChunkCounter) *Handler {
	return &Handler{documents: documents, messages: messages, failedJobs: failedJobs, chunks: chunks}
}

type StatsResponse struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	Messages   int `json:"messages"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	var resp StatsResponse
	g, gctx := errgroup.WithContext(ctx)
	count := func(name string, dst *int, fn func(context.Context) (int, error)) {
		g.Go(func() error {
			n, err := fn(gctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to count "+name, "error", err, "correlationId", correlationID)
				return err
			}
			*dst = n
			return nil
		})
	}
	count("documents", &resp.Documents, h.documents.Count)
	count("chunks", &resp.Chunks, h.chunks.CountChunks)
	count("messages", &resp.Messages, h.messages.Count)
	count("failed jobs", &resp.FailedJobs, h.failedJobs.Count)

	if err := g.Wait(); err != nil {
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to collect stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
		slog.Error("failed to encode error response", "error", err)
	}
}
