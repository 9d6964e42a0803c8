// Package plan resolves the subscription tier of a user and the ingestion
// ceilings that come with it. Billing itself lives elsewhere; this package
// only reads what billing has written to user_plans.
package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pagechat/internal/settings"
)

type Tier string

const (
	Free Tier = "free"
	Pro  Tier = "pro"
)

type Repository interface {
	Tier(ctx context.Context, userID string) (Tier, error)
}

type SettingsService interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Tier returns Free for users billing has never written a row for.
func (r *PostgresRepo) Tier(ctx context.Context, userID string) (Tier, error) {
	var t string
	err := r.db.QueryRowContext(ctx, `SELECT plan FROM user_plans WHERE user_id = $1`, userID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return Free, nil
	}
	if err != nil {
		return "", err
	}
	return Tier(t), nil
}

type Service struct {
	repo     Repository
	settings SettingsService
}

func NewService(repo Repository, settings SettingsService) *Service {
	return &Service{repo: repo, settings: settings}
}

// MaxPages is the PDF page ceiling for the user's tier.
func (s *Service) MaxPages(ctx context.Context, userID string) (int, error) {
	tier, err := s.repo.Tier(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve plan: %w", err)
	}
	set, err := s.settings.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get settings: %w", err)
	}
	if tier == Pro {
		return set.ProPlanMaxPages, nil
	}
	return set.FreePlanMaxPages, nil
}
