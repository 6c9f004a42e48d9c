// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Session token maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete every expired access and refresh token",
		Long: `Run one retention pass immediately. serve runs the same pass on the
configured prune interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(app *App) error {
				n, err := app.Retention.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("Pruned %d expired tokens\n", n)
				return nil
			})
		},
	})
	return cmd
}
