package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pagechat/internal/conversation"
	"pagechat/internal/llm"
)

// ErrStreamConsumed is returned by Recv once the stream has finished.
var ErrStreamConsumed = errors.New("token stream already consumed")

const defaultCommitTimeout = 10 * time.Second

type Appender interface {
	Append(ctx context.Context, documentID string, m conversation.NewMessage) (*conversation.Message, error)
}

// Coordinator persists the assistant reply of a token stream exactly once.
type Coordinator struct {
	store         Appender
	commitTimeout time.Duration
}

func NewCoordinator(store Appender) *Coordinator {
	return &Coordinator{store: store, commitTimeout: defaultCommitTimeout}
}

// Wrap returns a reader that re-emits src and a completion that resolves when
// the reply has been stored. cancel aborts the upstream model call; it is
// invoked when the stream finishes for any reason. If ctx ends before the
// consumer drains the stream, the partial reply is stored as incomplete.
func (c *Coordinator) Wrap(ctx context.Context, documentID string, src llm.TokenStream, cancel context.CancelFunc) (*TokenReader, *Completion) {
	if cancel == nil {
		cancel = func() {}
	}
	comp := &Completion{done: make(chan struct{})}
	r := &TokenReader{
		coord:      c,
		ctx:        ctx,
		documentID: documentID,
		src:        src,
		cancel:     cancel,
		completion: comp,
	}
	r.stopWatch = context.AfterFunc(ctx, func() {
		r.finish(context.Cause(ctx))
	})
	return r, comp
}

// TokenReader is single-pass and single-consumer.
type TokenReader struct {
	coord      *Coordinator
	ctx        context.Context
	documentID string
	src        llm.TokenStream
	cancel     context.CancelFunc
	stopWatch  func() bool
	completion *Completion

	mu       sync.Mutex
	buf      strings.Builder
	finished atomic.Bool
	once     sync.Once
}

func (r *TokenReader) Recv() (string, error) {
	if r.finished.Load() {
		return "", ErrStreamConsumed
	}

	tok, err := r.src.Recv()
	if errors.Is(err, io.EOF) {
		r.end(nil)
		return "", io.EOF
	}
	if err != nil {
		r.end(err)
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished.Load() {
		return "", ErrStreamConsumed
	}
	r.buf.WriteString(tok)
	return tok, nil
}

// Close abandons the stream. What was received so far is stored as an
// incomplete reply.
func (r *TokenReader) Close() error {
	r.end(errStreamClosed)
	return nil
}

var errStreamClosed = errors.New("stream closed before completion")

// end is the consumer side of finish; the context watcher is no longer
// needed once the consumer has stopped the stream.
func (r *TokenReader) end(cause error) {
	r.stopWatch()
	r.finish(cause)
}

// finish runs once. A nil cause means the model ended the stream itself.
func (r *TokenReader) finish(cause error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.finished.Store(true)
		text := r.buf.String()
		r.mu.Unlock()

		r.cancel()
		if err := r.src.Close(); err != nil {
			slog.WarnContext(r.ctx, "failed to close model stream", "error", err)
		}

		r.completion.interrupted = cause
		if cause != nil && text == "" {
			slog.InfoContext(r.ctx, "stream ended before any token, nothing to store",
				"document_id", r.documentID, "cause", cause)
			close(r.completion.done)
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.coord.commitTimeout)
		defer cancel()

		msg, err := r.coord.store.Append(ctx, r.documentID, conversation.NewMessage{
			Author:     conversation.AuthorAssistant,
			Text:       text,
			Incomplete: cause != nil,
		})
		if err != nil {
			slog.ErrorContext(r.ctx, "failed to store assistant message", "document_id", r.documentID, "error", err)
		} else {
			slog.InfoContext(r.ctx, "assistant message stored",
				"document_id", r.documentID, "message_id", msg.ID, "incomplete", cause != nil)
		}
		r.completion.msg, r.completion.err = msg, err
		close(r.completion.done)
	})
}

// Completion resolves after the reply has been stored or skipped.
type Completion struct {
	done        chan struct{}
	msg         *conversation.Message
	err         error
	interrupted error
}

func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait returns the stored assistant message. It is nil without an error
// when the stream was interrupted before producing any text.
func (c *Completion) Wait(ctx context.Context) (*conversation.Message, error) {
	select {
	case <-c.done:
		return c.msg, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Interrupted is the reason the stream stopped early, or nil if the model
// finished it. Only meaningful after Done is closed.
func (c *Completion) Interrupted() error {
	return c.interrupted
}
