// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/pkg/errutil"
)

func TestDirs(t *testing.T) {
	tests := []struct {
		name  string
		fn    func() (string, error)
		env   string
		value string
		home  string
		want  string
	}{
		{name: "config from env", fn: ConfigDir, env: "XDG_CONFIG_HOME", value: "/custom/config", home: "/home/ada", want: "/custom/config/accountd"},
		{name: "config default", fn: ConfigDir, env: "XDG_CONFIG_HOME", home: "/home/ada", want: "/home/ada/.config/accountd"},
		{name: "config relative env ignored", fn: ConfigDir, env: "XDG_CONFIG_HOME", value: "rel/config", home: "/home/ada", want: "/home/ada/.config/accountd"},
		{name: "data from env", fn: DataDir, env: "XDG_DATA_HOME", value: "/srv/data", home: "/home/ada", want: "/srv/data/accountd"},
		{name: "data default", fn: DataDir, env: "XDG_DATA_HOME", home: "/home/ada", want: "/home/ada/.local/share/accountd"},
		{name: "data relative env ignored", fn: DataDir, env: "XDG_DATA_HOME", value: "./data", home: "/home/ada", want: "/home/ada/.local/share/accountd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			t.Setenv("HOME", tt.home)

			got, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirs_NoHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "")

	_, err := ConfigDir()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "XDG_NO_HOME")
	errutil.AssertErrorContext(t, err, "env", "XDG_CONFIG_HOME")

	_, err = DataDir()
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "env", "XDG_DATA_HOME")
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "accountd")

	require.NoError(t, EnsureDir(path))
	require.NoError(t, EnsureDir(path), "existing directories are fine")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestEnsureDir_BlockedByFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "accounts.db")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	err := EnsureDir(filepath.Join(file, "nested"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "XDG_MKDIR_FAILED")
}
