// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/logging"
)

// cli carries the global flags and dependencies shared by every command.
type cli struct {
	deps       *Deps
	configPath string
	envFiles   []string
}

// NewRootCmd creates the root command. A nil deps uses the defaults.
func NewRootCmd(deps *Deps) *cobra.Command {
	c := &cli{deps: deps.withDefaults()}

	cmd := &cobra.Command{
		Use:   "accountd",
		Short: "accountd - account identity and session tokens",
		Long: `accountd manages account identities, email verification, password and
OAuth sign-in, and the access/refresh tokens that represent sessions.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file path (default: XDG_CONFIG_HOME/accountd/config.yaml when present)")
	pf.StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "dotenv files to load when present")
	pf.String("log-format", "json", "log format (json or text)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("database-driver", "sqlite", "database driver (postgres or sqlite)")
	pf.String("database-url", "", "PostgreSQL URL (prefer DATABASE_URL)")
	pf.String("sqlite-path", "", "SQLite database file (default: XDG_DATA_HOME/accountd/accountd.db)")
	pf.String("mail-driver", "log", "notification driver (log or smtp)")
	pf.String("base-url", "", "origin used in verification and reset links")

	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newMigrateCmd())
	cmd.AddCommand(c.newAccountCmd())
	cmd.AddCommand(c.newTokensCmd())
	cmd.AddCommand(c.newConfigCmd())

	return cmd
}

// loadConfig resolves configuration for cmd from file, flags, and
// environment.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return c.deps.ConfigLoader(config.LoadOptions{
		Path:     c.configPath,
		Flags:    cmd.Flags(),
		EnvFiles: c.envFiles,
	})
}

// setup loads configuration and builds the logger, which writes to the
// command's stderr.
func (c *cli) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	opts := cfg.LoggingOptions()
	opts.Output = cmd.ErrOrStderr()
	logger := logging.Setup("accountd", version, opts)
	return cfg, logger, nil
}

// openApp loads configuration and wires the engine without metrics.
func (c *cli) openApp(cmd *cobra.Command) (*App, error) {
	cfg, logger, err := c.setup(cmd)
	if err != nil {
		return nil, err
	}
	return buildApp(cmd.Context(), cfg, logger, c.deps, nil, cmd.ErrOrStderr())
}
