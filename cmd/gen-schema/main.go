// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the accountd configuration JSON Schema, or with
// --check fails when the committed schema is stale.
package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/config"
)

// defaultOutput is where the schema is committed.
var defaultOutput = filepath.Join("schemas", "config.schema.json")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		out   string
		check bool
	)
	cmd := &cobra.Command{
		Use:          "gen-schema",
		Short:        "Generate the accountd configuration JSON Schema",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
			}
			schema = append(schema, '\n')

			if check {
				return checkSchema(out, schema)
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", out).Wrap(err)
			}
			if err := os.WriteFile(out, schema, 0o600); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", out).Wrap(err)
			}
			cmd.Printf("Generated %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", defaultOutput, "schema file path")
	cmd.Flags().BoolVar(&check, "check", false, "compare with the existing file instead of writing it")
	return cmd
}

func checkSchema(path string, want []byte) error {
	got, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if errors.Is(err, fs.ErrNotExist) {
		return oops.Code("SCHEMA_STALE").With("path", path).Errorf("schema file missing; run gen-schema")
	}
	if err != nil {
		return oops.Code("SCHEMA_READ_FAILED").With("path", path).Wrap(err)
	}
	if !bytes.Equal(got, want) {
		return oops.Code("SCHEMA_STALE").With("path", path).Errorf("schema file is out of date; run gen-schema")
	}
	return nil
}
