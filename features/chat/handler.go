// Package chat exposes question answering over server-sent events and the
// paginated conversation history of a document.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"pagechat/features/document"
	"pagechat/internal/apperr"
	"pagechat/internal/conversation"
	"pagechat/internal/middleware"
	"pagechat/internal/rag"
	"pagechat/internal/vector"
)

// maxQuestionBytes bounds the request body of Ask.
const maxQuestionBytes = 16 << 10

type Asker interface {
	Ask(ctx context.Context, userID, documentID, question string) (*rag.Answer, error)
}

type DocumentFinder interface {
	Get(ctx context.Context, userID, id string) (*document.Document, error)
}

type MessageLister interface {
	List(ctx context.Context, documentID string, limit int, cursor string) (*conversation.Page, error)
}

type Handler struct {
	engine   Asker
	docs     DocumentFinder
	messages MessageLister
}

func NewHandler(engine Asker, docs DocumentFinder, messages MessageLister) *Handler {
	return &Handler{engine: engine, docs: docs, messages: messages}
}

type source struct {
	Page     int     `json:"page,omitempty"`
	Position int     `json:"position"`
	Score    float32 `json:"score"`
}

func sources(matches []vector.Match) []source {
	out := make([]source, 0, len(matches))
	for _, m := range matches {
		out = append(out, source{Page: m.Metadata.Page, Position: m.Metadata.Position, Score: m.Score})
	}
	return out
}

// Ask streams the answer as "token" events followed by exactly one "done" or
// "error" event. Failures before the first byte are plain JSON errors.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Question string `json:"question"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxQuestionBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(ctx, w, "PAYLOAD_TOO_LARGE", "Question is too long", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid request body", http.StatusBadRequest)
		return
	}

	ans, err := h.engine.Ask(ctx, middleware.UserID(ctx), r.PathValue("id"), req.Question)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	defer ans.Tokens.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fl, _ := w.(http.Flusher)

	send := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		if fl != nil {
			fl.Flush()
		}
		return nil
	}

	for {
		tok, err := ans.Tokens.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				slog.InfoContext(ctx, "client disconnected during answer", "document_id", r.PathValue("id"))
				return
			}
			slog.ErrorContext(ctx, "answer stream failed", "error", err)
			code, _ := apperr.HTTPStatus(err)
			_ = send("error", map[string]string{"code": code, "message": "Answer generation failed"})
			return
		}
		if err := send("token", tok); err != nil {
			slog.InfoContext(ctx, "failed to write token, abandoning stream", "error", err)
			return
		}
	}

	msg, err := ans.Completion.Wait(ctx)
	if err != nil || msg == nil {
		slog.ErrorContext(ctx, "answer not stored", "error", err)
		_ = send("error", map[string]string{"code": "INTERNAL_ERROR", "message": "Failed to store answer"})
		return
	}
	_ = send("done", map[string]interface{}{
		"message_id":  msg.ID,
		"question_id": ans.Question.ID,
		"sources":     sources(ans.Sources),
	})
}

// List returns the document's history newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if _, err := h.docs.Get(ctx, middleware.UserID(ctx), id); err != nil {
		h.fail(ctx, w, err)
		return
	}

	page, err := h.messages.List(ctx, id, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidCursor) {
			h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid cursor", http.StatusBadRequest)
			return
		}
		h.fail(ctx, w, err)
		return
	}

	msgs := page.Messages
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": msgs,
		"meta": map[string]string{"next_cursor": page.NextCursor},
	})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := apperr.HTTPStatus(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		slog.ErrorContext(ctx, "operation failed", "error", err)
		msg = "Internal Server Error"
	case errors.Is(err, apperr.ErrDocumentNotFound):
		msg = "Document not found"
	case errors.Is(err, apperr.ErrDocumentNotReady):
		msg = "Document is not ready for questions"
	case status == http.StatusBadGateway:
		slog.ErrorContext(ctx, "provider failed", "error", err)
		msg = "Upstream provider failed"
	}

	var ae *rag.AnswerError
	if errors.As(err, &ae) {
		h.writeJSON(ctx, w, status, map[string]interface{}{
			"error":         map[string]string{"code": code, "message": msg},
			"question_id":   ae.QuestionID,
			"correlationId": middleware.GetCorrelationID(ctx),
		})
		return
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
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
