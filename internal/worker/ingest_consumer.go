package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"pagechat/features/job"
	"pagechat/internal/apperr"
	"pagechat/internal/middleware"
)

type Ingester interface {
	Run(ctx context.Context, documentID string, lastAttempt bool) error
	Fail(ctx context.Context, documentID, reason string) error
}

type FailedJobRecorder interface {
	Save(ctx context.Context, j *job.Job) error
}

// IngestConsumer handles ingest.document messages. Returning nil acks the
// message; returning an error lets NSQ redeliver it.
type IngestConsumer struct {
	ingester    Ingester
	jobs        FailedJobRecorder
	maxAttempts uint16
	timeout     time.Duration
}

func NewIngestConsumer(ingester Ingester, jobs FailedJobRecorder, maxAttempts uint16, timeout time.Duration) *IngestConsumer {
	return &IngestConsumer{
		ingester:    ingester,
		jobs:        jobs,
		maxAttempts: max(1, maxAttempts),
		timeout:     timeout,
	}
}

func decodeTask(body []byte) (IngestTask, bool) {
	var task IngestTask
	if len(body) == 0 {
		return task, false
	}
	if err := json.Unmarshal(body, &task); err != nil || task.DocumentID == "" {
		slog.Error("poison pill: invalid ingest task", "error", err, "body", string(body))
		return task, false
	}
	return task, true
}

func taskContext(task IngestTask) context.Context {
	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	return ctx
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	// Redelivery cannot fix a bad payload.
	task, ok := decodeTask(m.Body)
	if !ok {
		return nil
	}

	ctx := taskContext(task)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	lastAttempt := m.Attempts >= h.maxAttempts
	slog.InfoContext(ctx, "ingest task received", "document_id", task.DocumentID, "attempt", m.Attempts, "last_attempt", lastAttempt)

	err := h.ingester.Run(ctx, task.DocumentID, lastAttempt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRequeue) && !lastAttempt:
		return err
	}

	// The document is terminal now, or could not be marked on the last
	// attempt. Provider and infrastructure failures are kept for operators.
	if apperr.Transient(err) || errors.Is(err, ErrRequeue) {
		h.recordFailure(ctx, task, m.Body, err)
	}
	return nil
}

// LogFailedMessage is called by go-nsq instead of HandleMessage once a
// message exceeds MaxAttempts, which happens when the final attempt never
// reported back (worker crash, nsqd timeout). The document would otherwise
// stay PROCESSING for good.
func (h *IngestConsumer) LogFailedMessage(m *nsq.Message) {
	task, ok := decodeTask(m.Body)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(taskContext(task), 10*time.Second)
	defer cancel()

	slog.ErrorContext(ctx, "ingest task exceeded max attempts", "document_id", task.DocumentID, "attempts", m.Attempts)
	if err := h.ingester.Fail(ctx, task.DocumentID, apperr.ReasonProviderError); err != nil {
		slog.ErrorContext(ctx, "failed to mark abandoned document", "document_id", task.DocumentID, "error", err)
	}
	h.recordFailure(ctx, task, m.Body, fmt.Errorf("gave up after %d attempts", m.Attempts))
}

func (h *IngestConsumer) recordFailure(ctx context.Context, task IngestTask, body []byte, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	j := &job.Job{
		DocumentID: task.DocumentID,
		Handler:    job.HandlerIngest,
		Payload:    body,
		Error:      cause.Error(),
	}
	if err := h.jobs.Save(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "document_id", task.DocumentID, "error", err)
		return
	}
	slog.WarnContext(ctx, "ingest task recorded as failed job", "document_id", task.DocumentID, "job_id", j.ID)
}
