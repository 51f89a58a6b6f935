package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmpulse/farmpulse/internal/domain"
)

// TierRepo implements tier.Store backed by PostgreSQL.
type TierRepo struct {
	pool *pgxpool.Pool
}

// NewTierRepo creates a TierRepo on the shared pool.
func NewTierRepo(pool *pgxpool.Pool) *TierRepo {
	return &TierRepo{pool: pool}
}

// FetchTier returns the user's tier assignment, or domain.ErrTierNotFound
// when none exists.
func (r *TierRepo) FetchTier(ctx context.Context, userID int64) (domain.Tier, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT tier FROM user_tiers WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrTierNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch tier: %w", err)
	}

	tier, err := domain.ParseTier(raw)
	if err != nil {
		return "", fmt.Errorf("corrupt tier assignment for user %d: %w", userID, err)
	}
	return tier, nil
}

// UpsertTier writes a tier assignment.
func (r *TierRepo) UpsertTier(ctx context.Context, userID int64, tier domain.Tier) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_tiers (user_id, tier, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			updated_at = NOW()
	`, userID, string(tier))
	if err != nil {
		return fmt.Errorf("failed to upsert tier: %w", err)
	}
	return nil
}
