package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pagechat/internal/config"
)

var (
	ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")
	// ErrNotRetryable is returned for jobs whose document already reached a
	// terminal status; the pipeline would drop the task anyway.
	ErrNotRetryable = errors.New("document already finished ingestion")
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: 5 * time.Second}
}

// WithPublishTimeout overrides how long Retry waits on NSQ.
func (s *Service) WithPublishTimeout(d time.Duration) *Service {
	s.publishTimeout = d
	return s
}

func (s *Service) List(ctx context.Context, userID string) ([]Job, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Retry republishes the stored task and forgets the job once NSQ has it.
func (s *Service) Retry(ctx context.Context, userID, id string) error {
	job, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if job.DocumentStatus == "SUCCESS" || job.DocumentStatus == "FAILED" {
		return ErrNotRetryable
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicIngestDocument, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(s.publishTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "job republished", "job_id", id, "document_id", job.DocumentID)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
