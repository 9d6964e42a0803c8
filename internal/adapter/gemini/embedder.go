package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"pagechat/internal/apperr"
	"pagechat/internal/settings"
)

const EmbeddingModel = "gemini-embedding-001"

// DynamicEmbedder embeds with the key currently stored in settings.
type DynamicEmbedder struct {
	clients clientCache
	limiter *rate.Limiter
}

func NewDynamicEmbedder(svc *settings.Service, opts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{
		clients: clientCache{settingsSvc: svc, clientOpts: opts},
	}
}

// WithRateLimit caps calls per second across all goroutines sharing the
// embedder. A non-positive rate disables the cap.
func (e *DynamicEmbedder) WithRateLimit(perSecond float64) *DynamicEmbedder {
	if perSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
	return e
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %w", apperr.ErrEmbeddingProvider, err)
		}
	}

	client, err := e.clients.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrEmbeddingProvider, err)
	}

	slog.DebugContext(ctx, "embedding content", "model", EmbeddingModel, "length", len(text))
	res, err := client.EmbeddingModel(EmbeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrEmbeddingProvider, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", apperr.ErrEmbeddingProvider)
	}
	return res.Embedding.Values, nil
}
