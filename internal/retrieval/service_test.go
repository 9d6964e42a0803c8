package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pagechat/internal/apperr"
	"pagechat/internal/middleware"
	"pagechat/internal/retrieval"
	"pagechat/internal/vector"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	return m.Called(ctx, namespace, records).Error(0)
}

func (m *MockStore) Query(ctx context.Context, namespace string, values []float32, k int) ([]vector.Match, error) {
	args := m.Called(ctx, namespace, values, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Match), args.Error(1)
}

func (m *MockStore) NamespaceContains(ctx context.Context, namespace string) (bool, error) {
	args := m.Called(ctx, namespace)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) DeleteNamespace(ctx context.Context, namespace string) error {
	return m.Called(ctx, namespace).Error(0)
}

type MockReranker struct{ mock.Mock }

func (m *MockReranker) Rerank(ctx context.Context, query string, docs []string) ([]int, error) {
	args := m.Called(ctx, query, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func match(text string, score float32) vector.Match {
	return vector.Match{Score: score, Metadata: vector.Metadata{DocumentID: "doc-1", Text: text, Page: 1}}
}

func TestService_Search(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*MockEmbedder, *MockStore, *MockReranker)
		nilReranker bool
		wantErr     error
		want        []string
	}{
		{
			name:        "Scoped to the document namespace",
			nilReranker: true,
			setup: func(e *MockEmbedder, s *MockStore, r *MockReranker) {
				e.On("Embed", mock.Anything, "capital?").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "doc-1", []float32{0.1}, 10).
					Return([]vector.Match{match("A", 0.9), match("B", 0.8)}, nil)
			},
			want: []string{"A", "B"},
		},
		{
			name: "Reranked",
			setup: func(e *MockEmbedder, s *MockStore, r *MockReranker) {
				e.On("Embed", mock.Anything, "capital?").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "doc-1", []float32{0.1}, 10).
					Return([]vector.Match{match("A", 0.9), match("B", 0.8)}, nil)
				r.On("Rerank", mock.Anything, "capital?", []string{"A", "B"}).Return([]int{1, 0}, nil)
			},
			want: []string{"B", "A"},
		},
		{
			name: "Reranker failure keeps similarity order",
			setup: func(e *MockEmbedder, s *MockStore, r *MockReranker) {
				e.On("Embed", mock.Anything, "capital?").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "doc-1", []float32{0.1}, 10).
					Return([]vector.Match{match("A", 0.9), match("B", 0.8)}, nil)
				r.On("Rerank", mock.Anything, "capital?", []string{"A", "B"}).Return(nil, errors.New("429"))
			},
			want: []string{"A", "B"},
		},
		{
			name: "Empty namespace is not an error",
			setup: func(e *MockEmbedder, s *MockStore, r *MockReranker) {
				e.On("Embed", mock.Anything, "capital?").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "doc-1", []float32{0.1}, 10).Return([]vector.Match{}, nil)
			},
			want: []string{},
		},
		{
			name: "Embedding error",
			setup: func(e *MockEmbedder, s *MockStore, r *MockReranker) {
				e.On("Embed", mock.Anything, "capital?").Return(nil, fmt.Errorf("%w: quota", apperr.ErrEmbeddingProvider))
			},
			wantErr: apperr.ErrEmbeddingProvider,
		},
		{
			name: "Store error is not swallowed",
			setup: func(e *MockEmbedder, s *MockStore, r *MockReranker) {
				e.On("Embed", mock.Anything, "capital?").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "doc-1", []float32{0.1}, 10).
					Return(nil, fmt.Errorf("%w: timeout", apperr.ErrStoreUnavailable))
			},
			wantErr: apperr.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s, r := new(MockEmbedder), new(MockStore), new(MockReranker)
			tt.setup(e, s, r)

			var rr retrieval.Reranker = r
			if tt.nilReranker {
				rr = nil
			}
			svc := retrieval.NewService(e, s, rr, nil)

			got, err := svc.Search(context.Background(), "doc-1", "capital?", 10)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			texts := make([]string, 0, len(got))
			for _, m := range got {
				texts = append(texts, m.Metadata.Text)
			}
			assert.Equal(t, tt.want, texts)
			e.AssertExpectations(t)
			s.AssertExpectations(t)
		})
	}
}

func TestService_Search_LogsQuery(t *testing.T) {
	e, s := new(MockEmbedder), new(MockStore)
	e.On("Embed", mock.Anything, "q").Return([]float32{1}, nil)
	s.On("Query", mock.Anything, "doc-9", []float32{1}, 3).Return([]vector.Match{match("A", 1)}, nil)

	var buf bytes.Buffer
	svc := retrieval.NewService(e, s, nil, retrieval.NewQueryLogger(&buf))

	ctx := middleware.WithCorrelationID(context.Background(), "corr-1")
	_, err := svc.Search(ctx, "doc-9", "q", 3)
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "q", entry.Query)
	assert.Equal(t, "doc-9", entry.DocumentID)
	assert.Equal(t, 1, entry.Hits)
	assert.Equal(t, 3, entry.K)
	assert.Equal(t, []int{1}, entry.Pages)
	assert.False(t, entry.Reranked)
	assert.Equal(t, "corr-1", entry.CorrelationID)
}

func TestService_Search_LogsRerank(t *testing.T) {
	e, s, r := new(MockEmbedder), new(MockStore), new(MockReranker)
	e.On("Embed", mock.Anything, "q").Return([]float32{1}, nil)
	s.On("Query", mock.Anything, "doc-1", []float32{1}, 2).Return([]vector.Match{match("A", 0.9), match("B", 0.3)}, nil)
	r.On("Rerank", mock.Anything, "q", []string{"A", "B"}).Return([]int{1, 0}, nil)

	var buf bytes.Buffer
	svc := retrieval.NewService(e, s, r, retrieval.NewQueryLogger(&buf))
	_, err := svc.Search(context.Background(), "doc-1", "q", 2)
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.True(t, entry.Reranked)
	assert.InDelta(t, 0.9, entry.TopScore, 1e-6)
}

func TestService_Search_RepeatedQueryReturnsSameMatches(t *testing.T) {
	e, s, r := new(MockEmbedder), new(MockStore), new(MockReranker)
	e.On("Embed", mock.Anything, "capital?").Return([]float32{0.1, 0.2}, nil)
	s.On("Query", mock.Anything, "doc-1", []float32{0.1, 0.2}, 3).
		Return([]vector.Match{match("A", 0.9), match("B", 0.8), match("C", 0.5)}, nil)
	r.On("Rerank", mock.Anything, "capital?", []string{"A", "B", "C"}).Return([]int{2, 0, 1}, nil)

	svc := retrieval.NewService(e, s, r, nil)

	first, err := svc.Search(context.Background(), "doc-1", "capital?", 3)
	require.NoError(t, err)
	second, err := svc.Search(context.Background(), "doc-1", "capital?", 3)
	require.NoError(t, err)

	assert.Len(t, first, 3)
	assert.Equal(t, first, second)
	s.AssertNumberOfCalls(t, "Query", 2)
}
