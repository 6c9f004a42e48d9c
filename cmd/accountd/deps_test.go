// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/pkg/errutil"
)

// plainHasher stores passwords with a marker prefix so CLI tests avoid
// argon2 cost.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", auth.ErrEmptyPassword
	}
	return "plain$" + password, nil
}

func (plainHasher) Verify(password, hash string) (bool, error) {
	return hash == "plain$"+password, nil
}

func (plainHasher) NeedsUpgrade(string) bool { return false }

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	stopFunc  func(ctx context.Context) error
	metrics   *observability.Metrics
	readiness observability.ReadinessChecker
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startFunc != nil {
		return m.startFunc()
	}
	ch := make(chan error, 1)
	return ch, nil
}

func (m *mockObservabilityServer) Stop(ctx context.Context) error {
	if m.stopFunc != nil {
		return m.stopFunc(ctx)
	}
	return nil
}

func (m *mockObservabilityServer) Addr() string {
	return "127.0.0.1:9101"
}

func (m *mockObservabilityServer) Metrics() *observability.Metrics {
	if m.metrics == nil {
		m.metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	return m.metrics
}

// mockMigrator implements Migrator for testing.
type mockMigrator struct {
	version   uint
	dirty     bool
	applied   []uint
	pending   []uint
	versionFn func() (uint, bool, error)
	stepsFn   func(n int) error
	forced    *int
	upCalls   int
	downCalls int
	steps     []int
	closed    bool
}

func (m *mockMigrator) Up() error {
	m.upCalls++
	m.version = 2
	return nil
}

func (m *mockMigrator) Down() error {
	m.downCalls++
	m.version = 0
	return nil
}

func (m *mockMigrator) Steps(n int) error {
	m.steps = append(m.steps, n)
	if m.stepsFn != nil {
		return m.stepsFn(n)
	}
	m.version = uint(int(m.version) + n) //nolint:gosec // test values stay small
	return nil
}

func (m *mockMigrator) Version() (uint, bool, error) {
	if m.versionFn != nil {
		return m.versionFn()
	}
	return m.version, m.dirty, nil
}

func (m *mockMigrator) Force(version int) error {
	if version < 0 {
		return errors.New("negative version")
	}
	m.forced = &version
	return nil
}

func (m *mockMigrator) PendingMigrations() ([]uint, error) { return m.pending, nil }
func (m *mockMigrator) AppliedMigrations() ([]uint, error) { return m.applied, nil }
func (m *mockMigrator) Dialect() store.Dialect            { return store.DialectSQLite }

func (m *mockMigrator) Close() error {
	m.closed = true
	return nil
}

// isolate keeps a developer's XDG config and .env out of the test and
// returns a scratch directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("DATABASE_URL", "")
	return dir
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, deps *Deps, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd(deps)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestDeps_WithDefaultsFillsEveryFactory(t *testing.T) {
	d := (*Deps)(nil).withDefaults()
	assert.NotNil(t, d.ConfigLoader)
	assert.NotNil(t, d.BackendFactory)
	assert.NotNil(t, d.MigratorFactory)
	assert.NotNil(t, d.NotifierFactory)
	assert.NotNil(t, d.ExchangerFactory)
	assert.NotNil(t, d.HasherFactory)
	assert.NotNil(t, d.ObservabilityServerFactory)
	assert.NotNil(t, d.PasswordReader)
}

func TestDeps_WithDefaultsKeepsOverrides(t *testing.T) {
	custom := func() auth.PasswordHasher { return plainHasher{} }
	in := &Deps{HasherFactory: custom}
	out := in.withDefaults()

	_, ok := out.HasherFactory().(plainHasher)
	assert.True(t, ok)
	assert.Nil(t, in.ConfigLoader, "withDefaults must not mutate its receiver")
}

func TestSecretSource(t *testing.T) {
	t.Run("reads lines from stdin", func(t *testing.T) {
		cmd := &cobra.Command{}
		cmd.SetIn(strings.NewReader("first\r\nsecond\n"))
		src := newSecretSource(cmd, true, func(*cobra.Command, string) (string, error) {
			t.Fatal("terminal reader must not be used")
			return "", nil
		})

		first, err := src.next("a: ")
		require.NoError(t, err)
		assert.Equal(t, "first", first)
		second, err := src.next("b: ")
		require.NoError(t, err)
		assert.Equal(t, "second", second)

		_, err = src.next("c: ")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "PASSWORD_INPUT_FAILED")
	})

	t.Run("prompts through the reader", func(t *testing.T) {
		var prompts []string
		src := newSecretSource(&cobra.Command{}, false, func(_ *cobra.Command, prompt string) (string, error) {
			prompts = append(prompts, prompt)
			return "secret", nil
		})
		got, err := src.next("Password: ")
		require.NoError(t, err)
		assert.Equal(t, "secret", got)
		assert.Equal(t, []string{"Password: "}, prompts)
	})
}

func TestNewMigrator_RejectsInMemorySQLite(t *testing.T) {
	isolate(t)
	cfg := testConfig(t, store.MemoryPath)

	_, err := newMigrator(cfg)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}
