package vector

import "context"

// Metadata travels with every stored vector so answers can cite it.
// Page is 0 for sources without pages (web pages, videos).
type Metadata struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page,omitempty"`
	Position   int    `json:"position"`
	Text       string `json:"text"`
	Origin     string `json:"origin,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type Record struct {
	Values   []float32
	Metadata Metadata
}

type Match struct {
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Store is the namespace-partitioned similarity index. A namespace holds the
// chunks of exactly one document and is keyed by its id.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, values []float32, k int) ([]Match, error)
	NamespaceContains(ctx context.Context, namespace string) (bool, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}
