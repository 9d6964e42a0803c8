package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"pagechat/features/job"
	"pagechat/internal/apperr"
	"pagechat/internal/middleware"
	"pagechat/internal/worker"
)

func taskMessage(t *testing.T, docID string, attempts uint16) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(worker.IngestTask{DocumentID: docID, CorrelationID: "corr-7"})
	assert.NoError(t, err)
	return &nsq.Message{Body: body, Attempts: attempts}
}

func TestIngestConsumer_HandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		attempts    uint16
		runErr      error
		wantLast    bool
		wantErr     bool
		wantJobSave bool
	}{
		{name: "Success", attempts: 1},
		{name: "Permanent failure is acked", attempts: 1, runErr: fmt.Errorf("%w: 120 pages", apperr.ErrTooManyPages)},
		{name: "Retryable failure is requeued", attempts: 1, runErr: fmt.Errorf("%w: quota", worker.ErrRequeue), wantErr: true},
		{name: "Last attempt runs as last", attempts: 5, wantLast: true},
		{
			name:        "Provider failure on last attempt becomes a failed job",
			attempts:    5,
			wantLast:    true,
			runErr:      fmt.Errorf("%w: quota", apperr.ErrEmbeddingProvider),
			wantJobSave: true,
		},
		{
			name:        "Unmarkable document on last attempt becomes a failed job",
			attempts:    6,
			wantLast:    true,
			runErr:      fmt.Errorf("%w: mark FAILED: db down", worker.ErrRequeue),
			wantJobSave: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := new(MockIngester)
			jobs := new(MockJobRepo)
			consumer := worker.NewIngestConsumer(ing, jobs, 5, time.Minute)

			ing.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
				_, hasDeadline := ctx.Deadline()
				return middleware.GetCorrelationID(ctx) == "corr-7" && hasDeadline
			}), "doc-1", tt.wantLast).Return(tt.runErr)
			if tt.wantJobSave {
				jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
					return j.DocumentID == "doc-1" && j.Handler == job.HandlerIngest && len(j.Payload) > 0 && j.Error != ""
				})).Return(nil)
			}

			err := consumer.HandleMessage(taskMessage(t, "doc-1", tt.attempts))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			ing.AssertExpectations(t)
			jobs.AssertExpectations(t)
			if !tt.wantJobSave {
				jobs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestIngestConsumer_PoisonPill(t *testing.T) {
	ing := new(MockIngester)
	consumer := worker.NewIngestConsumer(ing, new(MockJobRepo), 5, time.Minute)

	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte(`{"correlation_id":"x"}`)}))
	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: nil}))
	ing.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestConsumer_JobSaveFailureStillAcks(t *testing.T) {
	ing := new(MockIngester)
	jobs := new(MockJobRepo)
	consumer := worker.NewIngestConsumer(ing, jobs, 1, 0)

	ing.On("Run", mock.Anything, "doc-1", true).Return(fmt.Errorf("%w: down", apperr.ErrStoreUnavailable))
	jobs.On("Save", mock.Anything, mock.Anything).Return(assert.AnError)

	assert.NoError(t, consumer.HandleMessage(taskMessage(t, "doc-1", 1)))
}

var _ nsq.FailedMessageLogger = (*worker.IngestConsumer)(nil)

func TestIngestConsumer_LogFailedMessage(t *testing.T) {
	ing := new(MockIngester)
	jobs := new(MockJobRepo)
	consumer := worker.NewIngestConsumer(ing, jobs, 3, time.Minute)

	ing.On("Fail", mock.MatchedBy(func(ctx context.Context) bool {
		return middleware.GetCorrelationID(ctx) == "corr-7"
	}), "doc-1", apperr.ReasonProviderError).Return(nil).Once()
	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.DocumentID == "doc-1" && j.Handler == job.HandlerIngest && len(j.Payload) > 0 && j.Error != ""
	})).Return(nil).Once()

	consumer.LogFailedMessage(taskMessage(t, "doc-1", 4))

	ing.AssertExpectations(t)
	jobs.AssertExpectations(t)
	ing.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestConsumer_LogFailedMessage_FailErrorStillRecordsJob(t *testing.T) {
	ing := new(MockIngester)
	jobs := new(MockJobRepo)
	consumer := worker.NewIngestConsumer(ing, jobs, 3, time.Minute)

	ing.On("Fail", mock.Anything, "doc-1", apperr.ReasonProviderError).Return(assert.AnError)
	jobs.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	consumer.LogFailedMessage(taskMessage(t, "doc-1", 4))

	jobs.AssertExpectations(t)
}

func TestIngestConsumer_LogFailedMessage_PoisonPill(t *testing.T) {
	ing := new(MockIngester)
	jobs := new(MockJobRepo)
	consumer := worker.NewIngestConsumer(ing, jobs, 3, time.Minute)

	consumer.LogFailedMessage(&nsq.Message{Body: []byte("invalid json"), Attempts: 4})
	consumer.LogFailedMessage(&nsq.Message{Body: nil, Attempts: 4})

	ing.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
	jobs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}
