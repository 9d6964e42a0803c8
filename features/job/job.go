package job

import (
	"encoding/json"
	"time"
)

// Handler names the stage an ingestion task failed in.
const (
	HandlerPublish = "publish"
	HandlerIngest  = "ingest-worker"
)

// Job is an ingestion task that did not go through, kept so it can be
// inspected and retried.
type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`

	// DocumentStatus is read from the owning document, not stored.
	DocumentStatus string `json:"document_status,omitempty"`
}
