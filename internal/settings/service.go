package settings

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

const (
	MaxTopK          = 50
	MaxHistoryWindow = 50
	// MaxTemperature keeps answers close to the retrieved text.
	MaxTemperature = 0.1
)

type Settings struct {
	ID               int     `json:"-"`
	GeminiAPIKey     string  `json:"gemini_api_key"`
	YouTubeAPIKey    string  `json:"youtube_api_key"`
	RerankProvider   string  `json:"rerank_provider"`
	RerankAPIKey     string  `json:"rerank_api_key"`
	RetrievalTopK    int     `json:"retrieval_top_k"`
	HistoryWindow    int     `json:"history_window"`
	Temperature      float32 `json:"temperature"`
	FreePlanMaxPages int     `json:"free_plan_max_pages"`
	ProPlanMaxPages  int     `json:"pro_plan_max_pages"`
}

func (s *Settings) Validate() error {
	if s.RetrievalTopK < 1 || s.RetrievalTopK > MaxTopK {
		return fmt.Errorf("%w: retrieval_top_k must be between 1 and %d", ErrInvalidSettings, MaxTopK)
	}
	if s.HistoryWindow < 0 || s.HistoryWindow > MaxHistoryWindow {
		return fmt.Errorf("%w: history_window must be between 0 and %d", ErrInvalidSettings, MaxHistoryWindow)
	}
	if s.Temperature < 0 || s.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature must be between 0 and %.1f", ErrInvalidSettings, MaxTemperature)
	}
	if s.FreePlanMaxPages < 1 || s.ProPlanMaxPages < 1 {
		return fmt.Errorf("%w: plan page ceilings must be positive", ErrInvalidSettings)
	}
	switch s.RerankProvider {
	case "", "none", "jina", "cohere":
	default:
		return fmt.Errorf("%w: unknown rerank_provider %q", ErrInvalidSettings, s.RerankProvider)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

// SeedKeys fills empty provider keys from the environment so a fresh
// deployment works without a settings round-trip.
func (s *Service) SeedKeys(ctx context.Context, geminiKey, youtubeKey, rerankKey string) (bool, error) {
	set, err := s.repo.Get(ctx)
	if err != nil {
		return false, err
	}

	changed := false
	if set.GeminiAPIKey == "" && geminiKey != "" {
		set.GeminiAPIKey = geminiKey
		changed = true
	}
	if set.YouTubeAPIKey == "" && youtubeKey != "" {
		set.YouTubeAPIKey = youtubeKey
		changed = true
	}
	if set.RerankAPIKey == "" && rerankKey != "" {
		set.RerankAPIKey = rerankKey
		changed = true
	}
	if !changed {
		return false, nil
	}
	return true, s.repo.Update(ctx, set)
}
