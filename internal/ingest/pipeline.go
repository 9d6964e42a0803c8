// Package ingest turns a document's origin into stored vectors and drives
// the document to SUCCESS or FAILED.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pagechat/features/document"
	"pagechat/internal/apperr"
	"pagechat/internal/llm"
	"pagechat/internal/text"
	"pagechat/internal/vector"
	"pagechat/internal/worker"
)

// ErrRetry marks a run that left the document PROCESSING and wants the task
// delivered again.
var ErrRetry = worker.ErrRequeue

const finalizeTimeout = 10 * time.Second

type Documents interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	Transition(ctx context.Context, id string, from []document.Status, to document.Status, reason string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, kind, origin string, maxPages int) ([]text.Section, error)
}

type PageLimits interface {
	MaxPages(ctx context.Context, userID string) (int, error)
}

type Pipeline struct {
	docs        Documents
	vectors     vector.Store
	fetcher     Fetcher
	embedder    llm.Embedder
	splitter    *text.Splitter
	limits      PageLimits
	concurrency int
}

func NewPipeline(docs Documents, vectors vector.Store, fetcher Fetcher, embedder llm.Embedder, splitter *text.Splitter, limits PageLimits, concurrency int) *Pipeline {
	return &Pipeline{
		docs:        docs,
		vectors:     vectors,
		fetcher:     fetcher,
		embedder:    embedder,
		splitter:    splitter,
		limits:      limits,
		concurrency: max(1, concurrency),
	}
}

// Run ingests one document. lastAttempt says whether a transient failure may
// still be retried; on the last attempt every failure is terminal.
//
// A nil return means the document is terminal (or gone). An error wrapping
// ErrRetry means it is still PROCESSING. Any other error means the document
// was marked FAILED, or could not be marked at all.
func (p *Pipeline) Run(ctx context.Context, documentID string, lastAttempt bool) error {
	doc, err := p.docs.Get(ctx, documentID)
	if errors.Is(err, apperr.ErrDocumentNotFound) {
		slog.InfoContext(ctx, "document no longer exists, dropping task", "document_id", documentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load document: %v", ErrRetry, err)
	}
	if doc.Status.Terminal() {
		slog.InfoContext(ctx, "document already terminal, dropping task", "document_id", doc.ID, "status", doc.Status)
		return nil
	}

	// PROCESSING -> PROCESSING lets a redelivered task redo the work of a
	// crashed worker.
	err = p.docs.Transition(ctx, doc.ID,
		[]document.Status{document.StatusPending, document.StatusProcessing}, document.StatusProcessing, "")
	if errors.Is(err, document.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: claim document: %v", ErrRetry, err)
	}

	start := time.Now()
	n, err := p.index(ctx, doc, doc.Status == document.StatusProcessing)
	if err == nil {
		if err := p.finalize(ctx, doc.ID, document.StatusSuccess, ""); err != nil {
			return err
		}
		slog.InfoContext(ctx, "document ingested", "document_id", doc.ID, "chunks", n, "duration", time.Since(start))
		return nil
	}

	if apperr.Transient(err) && !lastAttempt {
		slog.WarnContext(ctx, "ingestion failed, will retry", "document_id", doc.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrRetry, err)
	}

	reason := apperr.Reason(err)
	slog.ErrorContext(ctx, "ingestion failed", "document_id", doc.ID, "reason", reason, "error", err)
	if ferr := p.finalize(ctx, doc.ID, document.StatusFailed, reason); ferr != nil {
		return ferr
	}
	return err
}

// finalize runs on a context detached from the task deadline so a timed out
// run still reaches a terminal status.
func (p *Pipeline) finalize(ctx context.Context, id string, to document.Status, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	err := p.docs.Transition(ctx, id, []document.Status{document.StatusProcessing}, to, reason)
	if err != nil && !errors.Is(err, document.ErrInvalidTransition) {
		return fmt.Errorf("%w: mark %s: %v", ErrRetry, to, err)
	}
	return nil
}

// Fail moves a document whose task was given up on to FAILED. A PENDING
// document passes through PROCESSING first; terminal documents are left alone.
func (p *Pipeline) Fail(ctx context.Context, documentID, reason string) error {
	err := p.docs.Transition(ctx, documentID,
		[]document.Status{document.StatusPending, document.StatusProcessing}, document.StatusProcessing, "")
	if errors.Is(err, document.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: claim document: %v", ErrRetry, err)
	}
	slog.WarnContext(ctx, "giving up on document", "document_id", documentID, "reason", reason)
	return p.finalize(ctx, documentID, document.StatusFailed, reason)
}

// index fills the document's namespace. resumed is set when an earlier run
// died mid-way: whatever that run stored may be partial, so it is dropped
// and rebuilt instead of trusted.
func (p *Pipeline) index(ctx context.Context, doc *document.Document, resumed bool) (int, error) {
	if resumed {
		if err := p.vectors.DeleteNamespace(ctx, doc.ID); err != nil {
			return 0, err
		}
	} else {
		// Best effort: two first-time runs racing here can both index.
		exists, err := p.vectors.NamespaceContains(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		if exists {
			slog.InfoContext(ctx, "namespace already populated, skipping embedding", "document_id", doc.ID)
			return 0, nil
		}
	}

	var err error
	maxPages := 0
	if doc.Kind == document.KindPDF {
		maxPages, err = p.limits.MaxPages(ctx, doc.UserID)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
	}

	sections, err := p.fetcher.Fetch(ctx, string(doc.Kind), doc.Origin, maxPages)
	if err != nil {
		return 0, err
	}

	chunks := p.splitter.Chunk(sections)
	if len(chunks) == 0 {
		return 0, apperr.ErrNoText
	}

	records, err := p.embed(ctx, doc, chunks)
	if err != nil {
		return 0, err
	}

	if err := p.vectors.Upsert(ctx, doc.ID, records); err != nil {
		// A partial namespace would pass the idempotency check next time.
		if derr := p.vectors.DeleteNamespace(context.WithoutCancel(ctx), doc.ID); derr != nil {
			slog.ErrorContext(ctx, "failed to clean up partial namespace", "document_id", doc.ID, "error", derr)
		}
		return 0, err
	}
	return len(records), nil
}

func (p *Pipeline) embed(ctx context.Context, doc *document.Document, chunks []text.Chunk) ([]vector.Record, error) {
	records := make([]vector.Record, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			values, err := p.embedder.Embed(gctx, c.Content)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", c.Position, err)
			}
			records[i] = vector.Record{
				Values: values,
				Metadata: vector.Metadata{
					DocumentID: doc.ID,
					Page:       c.Page,
					Position:   c.Position,
					Text:       c.Content,
					Origin:     doc.Origin,
					Kind:       string(doc.Kind),
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}
