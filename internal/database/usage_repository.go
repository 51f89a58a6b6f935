package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmpulse/farmpulse/internal/domain"
)

// UsageRepo implements domain.UsageSink backed by PostgreSQL. It is only
// ever called from the usage recorder worker, off the request path.
type UsageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a UsageRepo on the shared pool.
func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// RecordUsage inserts one usage sample.
func (r *UsageRepo) RecordUsage(ctx context.Context, sample domain.UsageSample) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_log (user_id, endpoint, latency_ms, status_code, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sample.UserID, sample.Endpoint, sample.Latency.Milliseconds(), sample.StatusCode, sample.At)
	if err != nil {
		return fmt.Errorf("failed to insert usage sample: %w", err)
	}
	return nil
}
