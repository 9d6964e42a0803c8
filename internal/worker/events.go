package worker

import "errors"

// IngestTask is the NSQ payload asking a worker to ingest one document.
// Everything else the worker needs is read back from the documents table.
type IngestTask struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id"`
}

// ErrRequeue marks a handler failure that should be redelivered by NSQ.
var ErrRequeue = errors.New("task requeued")
