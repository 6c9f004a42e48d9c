// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
	authpg "github.com/holomush/accountd/internal/auth/postgres"
	authsqlite "github.com/holomush/accountd/internal/auth/sqlite"
	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/internal/xdg"
)

// Backend is an opened storage backend.
type Backend struct {
	Accounts auth.AccountRepository
	Tokens   auth.TokenRepository
	Tx       auth.Transactor
	// Ping checks the database connection.
	Ping  func(ctx context.Context) error
	close func()
}

// Close releases the connection pool.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// openBackend connects to the configured database, migrating it first when
// auto_migrate is set.
func openBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}
	db := cfg.Database

	switch dialect {
	case store.DialectPostgres:
		if db.AutoMigrate {
			if err := migrateUp(cfg); err != nil {
				return nil, err
			}
		}
		pool, err := store.OpenPostgres(ctx, db.URL, store.PostgresOptions{
			Retries: db.ConnectRetries,
			Timeout: db.ConnectTimeout,
			Logger:  slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		return &Backend{
			Accounts: authpg.NewAccountRepository(pool),
			Tokens:   authpg.NewTokenRepository(pool),
			Tx:       authpg.NewTransactor(pool),
			Ping:     pool.Ping,
			close:    pool.Close,
		}, nil

	default:
		if err := ensureSQLiteDir(db.SQLitePath); err != nil {
			return nil, err
		}
		sqlDB, err := store.OpenSQLite(ctx, db.SQLitePath)
		if err != nil {
			return nil, err
		}
		if db.AutoMigrate {
			if err := store.MigrateSQLite(sqlDB); err != nil {
				_ = sqlDB.Close() //nolint:errcheck // migration error takes precedence
				return nil, err
			}
		}
		return &Backend{
			Accounts: authsqlite.NewAccountRepository(sqlDB),
			Tokens:   authsqlite.NewTokenRepository(sqlDB),
			Tx:       authsqlite.NewTransactor(sqlDB),
			Ping:     sqlDB.PingContext,
			close: func() {
				if err := sqlDB.Close(); err != nil {
					slog.Debug("error closing sqlite database", "error", err)
				}
			},
		}, nil
	}
}

func ensureSQLiteDir(path string) error {
	if path == store.MemoryPath || path == "" {
		return nil
	}
	return xdg.EnsureDir(filepath.Dir(path))
}

// newMigrator creates a migrator for the configured database.
func newMigrator(cfg *config.Config) (Migrator, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}
	if dialect == store.DialectPostgres {
		m, err := store.NewMigrator(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	if cfg.Database.SQLitePath == store.MemoryPath {
		return nil, oops.Code("MIGRATION_INIT_FAILED").Errorf("an in-memory sqlite database cannot be migrated separately")
	}
	if err := ensureSQLiteDir(cfg.Database.SQLitePath); err != nil {
		return nil, err
	}
	m, err := store.NewSQLiteMigrator(cfg.Database.SQLitePath)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func migrateUp(cfg *config.Config) error {
	m, err := newMigrator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").Wrap(err)
	}
	return nil
}
