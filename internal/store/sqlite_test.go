// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"database/sql"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/accountd/internal/store"
)

func tableNames(db *sql.DB) []string {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('accounts', 'session_tokens') ORDER BY name`)
	Expect(err).NotTo(HaveOccurred())
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		Expect(rows.Scan(&name)).To(Succeed())
		names = append(names, name)
	}
	Expect(rows.Err()).NotTo(HaveOccurred())
	return names
}

var _ = Describe("SQLite", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("OpenSQLite", func() {
		It("rejects an empty path", func() {
			_, err := store.OpenSQLite(ctx, "  ")
			Expect(err).To(HaveOccurred())
		})

		It("enforces foreign keys", func() {
			db, err := store.OpenSQLite(ctx, store.MemoryPath)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(db.Close)

			var enabled int
			Expect(db.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled)).To(Succeed())
			Expect(enabled).To(Equal(1))
		})
	})

	Describe("MigrateSQLite", func() {
		It("creates the schema on an in-memory database and is idempotent", func() {
			db, err := store.OpenSQLite(ctx, store.MemoryPath)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(db.Close)

			Expect(store.MigrateSQLite(db)).To(Succeed())
			Expect(store.MigrateSQLite(db)).To(Succeed())
			Expect(tableNames(db)).To(Equal([]string{"accounts", "session_tokens"}))
		})
	})

	Describe("Migrator on a database file", func() {
		It("runs the full up and down cycle", func() {
			path := filepath.Join(GinkgoT().TempDir(), "accounts.db")

			migrator, err := store.NewSQLiteMigrator(path)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(migrator.Close)
			Expect(migrator.Dialect()).To(Equal(store.DialectSQLite))

			pending, err := migrator.PendingMigrations()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(Equal([]uint{1, 2}))

			Expect(migrator.Up()).To(Succeed())
			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(2)))
			Expect(dirty).To(BeFalse())

			Expect(migrator.Steps(-1)).To(Succeed())
			applied, err := migrator.AppliedMigrations()
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(Equal([]uint{1}))

			Expect(migrator.Down()).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())

			db, err := store.OpenSQLite(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(db.Close)
			Expect(tableNames(db)).To(BeEmpty())
		})
	})
})
