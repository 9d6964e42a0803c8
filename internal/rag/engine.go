// Package rag answers questions about one document: it records the question,
// retrieves grounding chunks, streams the model's answer and stores it.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pagechat/features/document"
	"pagechat/internal/apperr"
	"pagechat/internal/conversation"
	"pagechat/internal/llm"
	"pagechat/internal/settings"
	"pagechat/internal/vector"
)

type DocumentFinder interface {
	Get(ctx context.Context, userID, id string) (*document.Document, error)
}

type History interface {
	Appender
	Recent(ctx context.Context, documentID string, n int) ([]conversation.Message, error)
}

type Retriever interface {
	Search(ctx context.Context, documentID, query string, k int) ([]vector.Match, error)
}

type SettingsSource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// AnswerError is returned when answering failed after the question had
// already been stored.
type AnswerError struct {
	QuestionID string
	Err        error
}

func (e *AnswerError) Error() string {
	return fmt.Sprintf("answer failed (question %s stored): %v", e.QuestionID, e.Err)
}

func (e *AnswerError) Unwrap() error {
	return e.Err
}

type Answer struct {
	Question   *conversation.Message
	Sources    []vector.Match
	Tokens     *TokenReader
	Completion *Completion
}

type Engine struct {
	docs      DocumentFinder
	history   History
	retriever Retriever
	model     llm.ChatModel
	settings  SettingsSource
	coord     *Coordinator
}

func NewEngine(docs DocumentFinder, history History, retriever Retriever, model llm.ChatModel, set SettingsSource) *Engine {
	return &Engine{
		docs:      docs,
		history:   history,
		retriever: retriever,
		model:     model,
		settings:  set,
		coord:     NewCoordinator(history),
	}
}

// Ask starts answering question. The caller must drain or Close the
// returned Tokens.
func (e *Engine) Ask(ctx context.Context, userID, documentID, question string) (*Answer, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", apperr.ErrInvalidInput)
	}

	doc, err := e.docs.Get(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != document.StatusSuccess {
		return nil, fmt.Errorf("%w: document %s is %s", apperr.ErrDocumentNotReady, doc.ID, doc.Status)
	}

	cfg, err := e.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	// Prior turns only; the new question goes into the prompt separately.
	prior, err := e.history.Recent(ctx, doc.ID, cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	q, err := e.history.Append(ctx, doc.ID, conversation.NewMessage{Author: conversation.AuthorUser, Text: question})
	if err != nil {
		return nil, fmt.Errorf("store question: %w", err)
	}

	matches, err := e.retriever.Search(ctx, doc.ID, question, cfg.RetrievalTopK)
	if err != nil {
		return nil, &AnswerError{QuestionID: q.ID, Err: err}
	}
	slog.InfoContext(ctx, "retrieved context", "document_id", doc.ID, "matches", len(matches))

	messages := []llm.Message{
		{Role: llm.RoleSystem, Text: SystemInstruction},
		{Role: llm.RoleUser, Text: BuildPrompt(prior, matches, question)},
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := e.model.StreamChat(streamCtx, messages, min(cfg.Temperature, settings.MaxTemperature))
	if err != nil {
		cancel()
		return nil, &AnswerError{QuestionID: q.ID, Err: err}
	}

	tokens, completion := e.coord.Wrap(ctx, doc.ID, stream, cancel)
	return &Answer{Question: q, Sources: matches, Tokens: tokens, Completion: completion}, nil
}
