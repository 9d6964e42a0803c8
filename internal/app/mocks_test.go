package app

import (
	"context"

	"pagechat/internal/vector"
)

// MockVectorStore is shared with the external app_test package.
type MockVectorStore struct {
	EnsureSchemaErr error
	Chunks          int
}

func (m *MockVectorStore) EnsureSchema(ctx context.Context) error { return m.EnsureSchemaErr }

func (m *MockVectorStore) CountChunks(ctx context.Context) (int, error) { return m.Chunks, nil }

func (m *MockVectorStore) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	return nil
}

func (m *MockVectorStore) Query(ctx context.Context, namespace string, values []float32, k int) ([]vector.Match, error) {
	return []vector.Match{}, nil
}

func (m *MockVectorStore) NamespaceContains(ctx context.Context, namespace string) (bool, error) {
	return false, nil
}

func (m *MockVectorStore) DeleteNamespace(ctx context.Context, namespace string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(topic string, body []byte) error { return nil }
