package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"pagechat/internal/middleware"
	"pagechat/internal/vector"
)

// QueryLogEntry is one line of the retrieval log. Chunk text is left out;
// the document id and pages are enough to find a chunk again.
type QueryLogEntry struct {
	At            time.Time `json:"at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	DocumentID    string    `json:"document_id"`
	Kind          string    `json:"kind,omitempty"`
	Query         string    `json:"query"`
	K             int       `json:"k"`
	Hits          int       `json:"hits"`
	TopScore      float32   `json:"top_score"`
	Pages         []int     `json:"pages,omitempty"`
	Reranked      bool      `json:"reranked"`
	LatencyMs     int64     `json:"latency_ms"`
}

func newQueryLogEntry(ctx context.Context, documentID, query string, k int, matches []vector.Match, reranked bool, elapsed time.Duration) QueryLogEntry {
	entry := QueryLogEntry{
		CorrelationID: middleware.GetCorrelationID(ctx),
		DocumentID:    documentID,
		Query:         query,
		K:             k,
		Hits:          len(matches),
		Reranked:      reranked,
		LatencyMs:     elapsed.Milliseconds(),
	}
	for i, m := range matches {
		if i == 0 || m.Score > entry.TopScore {
			entry.TopScore = m.Score
		}
		if entry.Kind == "" {
			entry.Kind = m.Metadata.Kind
		}
		// Page 0 means the source has no pages.
		if m.Metadata.Page > 0 && !slices.Contains(entry.Pages, m.Metadata.Page) {
			entry.Pages = append(entry.Pages, m.Metadata.Page)
		}
	}
	return entry
}

// QueryLogger appends QueryLogEntry values as JSON lines. Safe for
// concurrent use.
type QueryLogger struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{enc: json.NewEncoder(w)}
}

// NewFileQueryLogger appends to path, creating its directory if needed.
func NewFileQueryLogger(path string) (*QueryLogger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, err
	}
	l := NewQueryLogger(f)
	l.c = f
	return l, nil
}

func (l *QueryLogger) Log(entry QueryLogEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	l.mu.Lock()
	err := l.enc.Encode(entry)
	l.mu.Unlock()
	if err != nil {
		slog.Error("failed to write query log entry", "document_id", entry.DocumentID, "error", err)
	}
}

// Close releases the file behind a file logger; it is a no-op otherwise.
func (l *QueryLogger) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}
