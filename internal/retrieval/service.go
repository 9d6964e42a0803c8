package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pagechat/internal/llm"
	"pagechat/internal/vector"
)

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]int, error)
}

// Service runs similarity search inside a single document's namespace.
type Service struct {
	embedder llm.Embedder
	store    vector.Store
	reranker Reranker
	logger   *QueryLogger
}

// NewService accepts a nil reranker or logger.
func NewService(e llm.Embedder, s vector.Store, r Reranker, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, reranker: r, logger: l}
}

// Search embeds the query with the ingestion embedder and returns up to k
// matches from documentID's namespace, most similar first. An empty result
// is a valid answer; store failures are returned, never hidden as empty.
func (s *Service) Search(ctx context.Context, documentID, query string, k int) ([]vector.Match, error) {
	start := time.Now()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.store.Query(ctx, documentID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query namespace %s: %w", documentID, err)
	}

	reranked := false
	if s.reranker != nil && len(matches) > 1 {
		matches, reranked = s.rerank(ctx, query, matches)
	}

	if s.logger != nil {
		s.logger.Log(newQueryLogEntry(ctx, documentID, query, k, matches, reranked, time.Since(start)))
	}
	return matches, nil
}

// rerank keeps the similarity order when the reranker fails; reranking only
// refines an already valid result.
func (s *Service) rerank(ctx context.Context, query string, matches []vector.Match) ([]vector.Match, bool) {
	contents := make([]string, len(matches))
	for i, m := range matches {
		contents[i] = m.Metadata.Text
	}

	indices, err := s.reranker.Rerank(ctx, query, contents)
	if err != nil {
		slog.WarnContext(ctx, "rerank failed, keeping similarity order", "error", err)
		return matches, false
	}

	reranked := make([]vector.Match, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(matches) {
			reranked = append(reranked, matches[idx])
		}
	}
	if len(reranked) == 0 {
		return matches, false
	}
	return reranked, true
}
