// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/store"
)

func (c *cli) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, or inspect schema migrations on the configured database.`,
	}
	cmd.AddCommand(c.newMigrateUpCmd())
	cmd.AddCommand(c.newMigrateDownCmd())
	cmd.AddCommand(c.newMigrateStatusCmd())
	cmd.AddCommand(c.newMigrateVersionCmd())
	cmd.AddCommand(c.newMigrateForceCmd())
	return cmd
}

// withMigrator loads configuration, opens a migrator, and closes it after fn.
func (c *cli) withMigrator(cmd *cobra.Command, fn func(m Migrator) error) error {
	cfg, _, err := c.setup(cmd)
	if err != nil {
		return err
	}
	m, err := c.deps.MigratorFactory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	return fn(m)
}

func (c *cli) newMigrateUpCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd, func(m Migrator) error {
				if steps < 0 {
					return oops.Code("INVALID_STEPS").Errorf("--steps must be positive, got %d", steps)
				}
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					cmd.Println("No pending migrations")
					return nil
				}
				if steps > 0 {
					err = m.Steps(steps)
				} else {
					err = m.Up()
				}
				if err != nil {
					return err
				}
				version, _, err := m.Version()
				if err != nil {
					return err
				}
				cmd.Printf("Migrated to version %d\n", version)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "apply at most this many migrations (0 = all)")
	return cmd
}

func (c *cli) newMigrateDownCmd() *cobra.Command {
	var (
		steps int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recent migration, or --steps of them. --all rolls back
every migration and drops all account data.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 && !all {
				return oops.Code("INVALID_STEPS").Errorf("--steps must be at least 1")
			}
			return c.withMigrator(cmd, func(m Migrator) error {
				var err error
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return err
				}
				version, _, err := m.Version()
				if err != nil {
					return err
				}
				cmd.Printf("Rolled back to version %d\n", version)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func (c *cli) newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd, func(m Migrator) error {
				out, err := formatMigrationStatus(m)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			})
		},
	}
}

func formatMigrationStatus(m Migrator) (string, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return "", err
	}
	applied, err := m.AppliedMigrations()
	if err != nil {
		return "", err
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dialect: %s\n", m.Dialect())
	fmt.Fprintf(&b, "Current version: %d", version)
	if dirty {
		b.WriteString(" (dirty: fix the database, then run migrate force)")
	}
	b.WriteString("\n")

	writeList := func(title string, versions []uint) error {
		fmt.Fprintf(&b, "%s:\n", title)
		if len(versions) == 0 {
			b.WriteString("  (none)\n")
			return nil
		}
		for _, v := range versions {
			name, err := store.MigrationName(m.Dialect(), v)
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "  %s\n", name)
		}
		return nil
	}
	if err := writeList("Applied", applied); err != nil {
		return "", err
	}
	if err := writeList("Pending", pending); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *cli) newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd, func(m Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					cmd.Printf("%d (dirty)\n", version)
					return nil
				}
				cmd.Printf("%d\n", version)
				return nil
			})
		},
	}
}

func (c *cli) newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Mark the database as being at VERSION and clear the dirty flag. Use only
after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return c.withMigrator(cmd, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	}
}

// parseForceVersion parses a version argument. Parsing stops at the first
// non-digit, so "3abc" is 3.
func parseForceVersion(s string) (int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	var version int
	if _, err := fmt.Sscanf(trimmed, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}
