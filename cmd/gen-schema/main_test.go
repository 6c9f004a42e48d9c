// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/pkg/errutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenSchema_WritesThenChecks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.schema.json")

	_, err := run(t, "--out", path, "--check")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SCHEMA_STALE")

	out, err := run(t, "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated "+path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok, "schema has top-level properties")
	assert.Contains(t, props, "database")
	assert.Contains(t, props, "mail")

	_, err = run(t, "--out", path, "--check")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	_, err = run(t, "--out", path, "--check")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SCHEMA_STALE")
}

func TestGenSchema_RejectsArguments(t *testing.T) {
	_, err := run(t, "extra")
	require.Error(t, err)
}
