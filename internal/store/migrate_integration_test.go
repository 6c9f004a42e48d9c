//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/accountd/internal/store"
)

// startPostgres runs a throwaway PostgreSQL container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("accountd_test"),
		postgres.WithUsername("accountd"),
		postgres.WithPassword("accountd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func tables(ctx context.Context, t *testing.T, pool *pgxpool.Pool) []string {
	t.Helper()
	rows, err := pool.Query(ctx, `SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename IN ('accounts', 'session_tokens') ORDER BY tablename`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestPostgresMigrations(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	migrator, err := store.NewMigrator(dsn)
	require.NoError(t, err)
	defer migrator.Close()
	assert.Equal(t, store.DialectPostgres, migrator.Dialect())

	pool, err := store.OpenPostgres(ctx, dsn, store.PostgresOptions{Retries: 2})
	require.NoError(t, err)
	defer pool.Close()

	pending, err := migrator.PendingMigrations()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, pending)

	require.NoError(t, migrator.Up())
	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.Equal(t, []string{"accounts", "session_tokens"}, tables(ctx, t, pool))

	t.Run("emails are unique regardless of case", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO accounts (id, email, password_hash) VALUES ('a1', 'Ada@Example.com', 'h')`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `INSERT INTO accounts (id, email, password_hash) VALUES ('a2', 'ada@example.COM', 'h')`)
		require.Error(t, err)
		assert.Equal(t, pgerrcode.UniqueViolation, pgCode(err))
	})

	t.Run("an account needs a credential", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO accounts (id, email) VALUES ('a3', 'nocred@example.com')`)
		require.Error(t, err)
		assert.Equal(t, pgerrcode.CheckViolation, pgCode(err))

		_, err = pool.Exec(ctx, `INSERT INTO accounts (id, email, oauth_github) VALUES ('a4', 'gh@example.com', TRUE)`)
		require.NoError(t, err)
	})

	t.Run("deleting an account removes its tokens", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO session_tokens (id, type, value, user_id, expires_at)
			VALUES ('t1', 'access', 'digest-1', 'a1', NOW() + INTERVAL '1 hour')`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `DELETE FROM accounts WHERE id = 'a1'`)
		require.NoError(t, err)

		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM session_tokens`).Scan(&n))
		assert.Zero(t, n)
	})

	require.NoError(t, migrator.Steps(-1))
	assert.Equal(t, []string{"accounts"}, tables(ctx, t, pool))

	require.NoError(t, migrator.Steps(1))
	require.NoError(t, migrator.Down())
	assert.Empty(t, tables(ctx, t, pool))

	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Force(1))
	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestOpenPostgres_Connects(t *testing.T) {
	ctx := context.Background()
	pool, err := store.OpenPostgres(ctx, startPostgres(t), store.PostgresOptions{Retries: 2})
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, pool.Ping(ctx))
}
