package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagechat/features/job"
	"pagechat/internal/apperr"
	"pagechat/internal/config"
	"pagechat/internal/middleware"
	"pagechat/internal/worker"
)

type Kind string

const (
	KindPDF     Kind = "pdf"
	KindWebPage Kind = "web-page"
	KindYouTube Kind = "youtube"
)

func (k Kind) Valid() bool {
	return k == KindPDF || k == KindWebPage || k == KindYouTube
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

var ErrInvalidTransition = errors.New("invalid status transition")

type Document struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Kind          Kind      `json:"kind"`
	Origin        string    `json:"origin"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Repository interface {
	Save(ctx context.Context, d *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	GetForUser(ctx context.Context, id, userID string) (*Document, error)
	ListByUser(ctx context.Context, userID string) ([]Document, error)
	// Transition moves id to `to` only if its current status is one of from.
	Transition(ctx context.Context, id string, from []Status, to Status, reason string) error
	Delete(ctx context.Context, id, userID string) error
	Count(ctx context.Context) (int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type NamespaceDeleter interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

type FailedJobRecorder interface {
	Save(ctx context.Context, j *job.Job) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	vectors NamespaceDeleter
	jobs    FailedJobRecorder
}

func NewService(repo Repository, pub EventPublisher, vectors NamespaceDeleter, jobs FailedJobRecorder) *Service {
	return &Service{repo: repo, pub: pub, vectors: vectors, jobs: jobs}
}

// Create registers a URL-backed document and queues it for ingestion.
// Source validity (a malformed video link, an unreachable page) is judged by
// the pipeline so the user sees it as a FAILED document with a reason.
func (s *Service) Create(ctx context.Context, userID string, kind Kind, origin, name string) (*Document, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", apperr.ErrInvalidInput, kind)
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, fmt.Errorf("%w: url is required", apperr.ErrInvalidInput)
	}
	if name == "" {
		name = origin
	}

	d := &Document{UserID: userID, Kind: kind, Origin: origin, Name: name}
	if err := s.repo.Save(ctx, d); err != nil {
		return nil, err
	}
	s.enqueue(ctx, d)
	return d, nil
}

// Upload registers a PDF already written to local storage at path.
func (s *Service) Upload(ctx context.Context, userID, path, name string) (*Document, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	d := &Document{UserID: userID, Kind: KindPDF, Origin: path, Name: name}
	if err := s.repo.Save(ctx, d); err != nil {
		return nil, err
	}
	s.enqueue(ctx, d)
	return d, nil
}

// enqueue never fails the request: a task that cannot be published is kept
// as a failed job and can be retried from there.
func (s *Service) enqueue(ctx context.Context, d *Document) {
	payload, _ := json.Marshal(worker.IngestTask{
		DocumentID:    d.ID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})

	err := s.pub.Publish(config.TopicIngestDocument, payload)
	if err == nil {
		slog.InfoContext(ctx, "published ingest task", "document_id", d.ID, "kind", d.Kind)
		return
	}

	slog.ErrorContext(ctx, "failed to publish ingest task", "document_id", d.ID, "error", err)
	j := &job.Job{
		DocumentID: d.ID,
		Handler:    job.HandlerPublish,
		Payload:    payload,
		Error:      err.Error(),
	}
	if err := s.jobs.Save(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "document_id", d.ID, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, userID, id string) (*Document, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrDocumentNotFound, id)
	}
	return s.repo.GetForUser(ctx, id, userID)
}

func (s *Service) List(ctx context.Context, userID string) ([]Document, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	return s.repo.ListByUser(ctx, userID)
}

// Delete removes the document's vectors, then the row. Messages go with the
// row through the foreign key cascade.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.vectors.DeleteNamespace(ctx, d.ID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, d.ID, userID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "document deleted", "document_id", d.ID)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
