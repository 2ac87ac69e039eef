//go:build integration

package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/pgstore"
)

func TestStoreAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("payments"),
		postgres.WithUsername("payments"),
		postgres.WithPassword("payments"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, pgstore.Migrate(dsn))
	require.NoError(t, pgstore.Migrate(dsn))

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.Tracer = obs.QueryTracer{Component: "pgstore"}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := pgstore.New(pool)
	inserted, err := store.Record(ctx, sampleEvent())
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.Record(ctx, sampleEvent())
	require.NoError(t, err)
	require.False(t, inserted)

	var amount string
	var payload map[string]any
	err = pool.QueryRow(ctx,
		`SELECT amount::text, payload FROM payment_notifications WHERE transaction_id = $1`, "tx-2").
		Scan(&amount, &payload)
	require.NoError(t, err)
	require.Equal(t, "15.1", amount)
	require.Equal(t, "A", payload["cart"])
}
