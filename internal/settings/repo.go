package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, gemini_api_key, youtube_api_key, rerank_provider, rerank_api_key, retrieval_top_k, history_window, temperature, free_plan_max_pages, pro_plan_max_pages FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.ID, &s.GeminiAPIKey, &s.YouTubeAPIKey, &s.RerankProvider, &s.RerankAPIKey,
		&s.RetrievalTopK, &s.HistoryWindow, &s.Temperature, &s.FreePlanMaxPages, &s.ProPlanMaxPages,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET gemini_api_key = $1, youtube_api_key = $2, rerank_provider = $3, rerank_api_key = $4,
			retrieval_top_k = $5, history_window = $6, temperature = $7,
			free_plan_max_pages = $8, pro_plan_max_pages = $9, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query,
		s.GeminiAPIKey, s.YouTubeAPIKey, s.RerankProvider, s.RerankAPIKey,
		s.RetrievalTopK, s.HistoryWindow, s.Temperature, s.FreePlanMaxPages, s.ProPlanMaxPages,
	)
	return err
}
