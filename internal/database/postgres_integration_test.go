package database

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/farmpulse/farmpulse/internal/domain"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testPool, err = Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestRunMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Migrations already ran in TestMain; running again must not fail.
	require.NoError(t, RunMigrations(context.Background(), testPool))
}

func TestTierRepo_FetchMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	repo := NewTierRepo(testPool)
	_, err := repo.FetchTier(context.Background(), 999999)
	assert.ErrorIs(t, err, domain.ErrTierNotFound)
}

func TestTierRepo_UpsertAndFetch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	repo := NewTierRepo(testPool)

	require.NoError(t, repo.UpsertTier(ctx, 101, domain.TierPro))

	tier, err := repo.FetchTier(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, tier)

	// Upsert overwrites the existing assignment.
	require.NoError(t, repo.UpsertTier(ctx, 101, domain.TierEnterprise))

	tier, err = repo.FetchTier(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, domain.TierEnterprise, tier)
}

func TestTierRepo_CorruptAssignment(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	_, err := testPool.Exec(ctx, `INSERT INTO user_tiers (user_id, tier, updated_at) VALUES (102, 'platinum', NOW())`)
	require.NoError(t, err)

	repo := NewTierRepo(testPool)
	_, err = repo.FetchTier(ctx, 102)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTierNotFound)
}

func TestUsageRepo_RecordUsage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	repo := NewUsageRepo(testPool)

	sample := domain.UsageSample{
		UserID:     201,
		Endpoint:   "notify.users",
		Latency:    42 * time.Millisecond,
		StatusCode: http.StatusOK,
		At:         time.Now().UTC(),
	}
	require.NoError(t, repo.RecordUsage(ctx, sample))

	var latencyMs int64
	var status int
	err := testPool.QueryRow(ctx,
		`SELECT latency_ms, status_code FROM usage_log WHERE user_id = $1 AND endpoint = $2`,
		sample.UserID, sample.Endpoint,
	).Scan(&latencyMs, &status)
	require.NoError(t, err)
	assert.Equal(t, int64(42), latencyMs)
	assert.Equal(t, http.StatusOK, status)
}
