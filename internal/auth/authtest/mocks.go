// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides testify mocks for the interfaces in package auth.
// Constructors register AssertExpectations as a test cleanup.
package authtest

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/accountd/internal/auth"
)

type cleanupT interface {
	mock.TestingT
	Cleanup(func())
}

func register(t cleanupT, m interface{ Test(mock.TestingT) }, assertFn func(mock.TestingT) bool) {
	m.Test(t)
	t.Cleanup(func() { assertFn(t) })
}

// MockAccountRepository mocks auth.AccountRepository.
type MockAccountRepository struct{ mock.Mock }

// NewMockAccountRepository returns a mock that asserts its expectations at cleanup.
func NewMockAccountRepository(t cleanupT) *MockAccountRepository {
	m := &MockAccountRepository{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockAccountRepository) Insert(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockAccountRepository) FindOne(ctx context.Context, filter auth.UserFilter) (*auth.User, error) {
	args := m.Called(ctx, filter)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *MockAccountRepository) UpdateFields(ctx context.Context, id ulid.ULID, patch auth.UserPatch) error {
	return m.Called(ctx, id, patch).Error(0)
}

// MockTokenRepository mocks auth.TokenRepository.
type MockTokenRepository struct{ mock.Mock }

// NewMockTokenRepository returns a mock that asserts its expectations at cleanup.
func NewMockTokenRepository(t cleanupT) *MockTokenRepository {
	m := &MockTokenRepository{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockTokenRepository) InsertMany(ctx context.Context, tokens []*auth.Token) error {
	return m.Called(ctx, tokens).Error(0)
}

func (m *MockTokenRepository) FindOne(ctx context.Context, filter auth.TokenFilter) (*auth.Token, error) {
	args := m.Called(ctx, filter)
	tok, _ := args.Get(0).(*auth.Token)
	return tok, args.Error(1)
}

func (m *MockTokenRepository) DeleteMany(ctx context.Context, filter auth.TokenFilter) (int64, error) {
	args := m.Called(ctx, filter)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct{ mock.Mock }

// NewMockPasswordHasher returns a mock that asserts its expectations at cleanup.
func NewMockPasswordHasher(t cleanupT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockNotifier mocks auth.Notifier.
type MockNotifier struct{ mock.Mock }

// NewMockNotifier returns a mock that asserts its expectations at cleanup.
func NewMockNotifier(t cleanupT) *MockNotifier {
	m := &MockNotifier{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockNotifier) SendSignupWelcome(ctx context.Context, msg auth.SignupWelcome) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockNotifier) SendPasswordReset(ctx context.Context, msg auth.PasswordReset) error {
	return m.Called(ctx, msg).Error(0)
}

// MockIdentityExchanger mocks auth.IdentityExchanger.
type MockIdentityExchanger struct{ mock.Mock }

// NewMockIdentityExchanger returns a mock that asserts its expectations at cleanup.
func NewMockIdentityExchanger(t cleanupT) *MockIdentityExchanger {
	m := &MockIdentityExchanger{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockIdentityExchanger) ExchangeCode(ctx context.Context, code string) (*auth.Identity, error) {
	args := m.Called(ctx, code)
	id, _ := args.Get(0).(*auth.Identity)
	return id, args.Error(1)
}

// MockTokenGenerator mocks auth.TokenGenerator.
type MockTokenGenerator struct{ mock.Mock }

// NewMockTokenGenerator returns a mock that asserts its expectations at cleanup.
func NewMockTokenGenerator(t cleanupT) *MockTokenGenerator {
	m := &MockTokenGenerator{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockTokenGenerator) Generate() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

// MockRecorder mocks auth.Recorder.
type MockRecorder struct{ mock.Mock }

// NewMockRecorder returns a mock that asserts its expectations at cleanup.
func NewMockRecorder(t cleanupT) *MockRecorder {
	m := &MockRecorder{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockRecorder) RecordFlow(flow, outcome string) {
	m.Called(flow, outcome)
}

func (m *MockRecorder) RecordNotification(kind, outcome string) {
	m.Called(kind, outcome)
}

// MockTransactor mocks auth.Transactor. When the expectation returns nil
// the callback runs and its error is returned.
type MockTransactor struct{ mock.Mock }

// NewMockTransactor returns a mock that asserts its expectations at cleanup.
func NewMockTransactor(t cleanupT) *MockTransactor {
	m := &MockTransactor{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.Called(ctx).Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

// MockTokenPruner mocks auth.TokenPruner.
type MockTokenPruner struct{ mock.Mock }

// NewMockTokenPruner returns a mock that asserts its expectations at cleanup.
func NewMockTokenPruner(t cleanupT) *MockTokenPruner {
	m := &MockTokenPruner{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockTokenPruner) PruneExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockAccountManager mocks auth.AccountManager.
type MockAccountManager struct{ mock.Mock }

// NewMockAccountManager returns a mock that asserts its expectations at cleanup.
func NewMockAccountManager(t cleanupT) *MockAccountManager {
	m := &MockAccountManager{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockAccountManager) userResult(args mock.Arguments) (*auth.User, error) {
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *MockAccountManager) CreateAccount(ctx context.Context, in auth.NewAccount) (*auth.User, error) {
	return m.userResult(m.Called(ctx, in))
}

func (m *MockAccountManager) CreateOAuthAccount(ctx context.Context, identity auth.Identity, provider auth.Provider) (*auth.User, error) {
	return m.userResult(m.Called(ctx, identity, provider))
}

func (m *MockAccountManager) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return m.userResult(m.Called(ctx, id))
}

func (m *MockAccountManager) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, email))
}

func (m *MockAccountManager) FindBySignupToken(ctx context.Context, token string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, token))
}

func (m *MockAccountManager) FindByResetToken(ctx context.Context, token string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, token))
}

func (m *MockAccountManager) VerifyEmail(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAccountManager) RecordActivity(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAccountManager) BeginPasswordReset(ctx context.Context, id ulid.ULID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockAccountManager) CompletePasswordReset(ctx context.Context, id ulid.ULID, newPassword string) error {
	return m.Called(ctx, id, newPassword).Error(0)
}

func (m *MockAccountManager) LinkOAuth(ctx context.Context, id ulid.ULID, provider auth.Provider) error {
	return m.Called(ctx, id, provider).Error(0)
}

func (m *MockAccountManager) UpdateProfile(ctx context.Context, id ulid.ULID, profile auth.Profile) (*auth.User, error) {
	return m.userResult(m.Called(ctx, id, profile))
}

func (m *MockAccountManager) EnsureSignupToken(ctx context.Context, id ulid.ULID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockAccountManager) ChangePassword(ctx context.Context, id ulid.ULID, current, next string) error {
	return m.Called(ctx, id, current, next).Error(0)
}

func (m *MockAccountManager) UpgradePasswordHash(ctx context.Context, id ulid.ULID, password string) error {
	return m.Called(ctx, id, password).Error(0)
}

func (m *MockAccountManager) DeliverSignupWelcome(ctx context.Context, user *auth.User, token string) {
	m.Called(ctx, user, token)
}

func (m *MockAccountManager) DeliverPasswordReset(ctx context.Context, user *auth.User, token string) {
	m.Called(ctx, user, token)
}

// MockSessionManager mocks auth.SessionManager.
type MockSessionManager struct{ mock.Mock }

// NewMockSessionManager returns a mock that asserts its expectations at cleanup.
func NewMockSessionManager(t cleanupT) *MockSessionManager {
	m := &MockSessionManager{}
	register(t, m, m.AssertExpectations)
	return m
}

func (m *MockSessionManager) IssueTokenPair(ctx context.Context, userID ulid.ULID) (*auth.TokenPair, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*auth.TokenPair)
	return p, args.Error(1)
}

func (m *MockSessionManager) Lookup(ctx context.Context, value string) (*auth.Token, error) {
	args := m.Called(ctx, value)
	tok, _ := args.Get(0).(*auth.Token)
	return tok, args.Error(1)
}

func (m *MockSessionManager) ResolveUserID(ctx context.Context, value string) (ulid.ULID, bool, error) {
	args := m.Called(ctx, value)
	id, _ := args.Get(0).(ulid.ULID)
	return id, args.Bool(1), args.Error(2)
}

func (m *MockSessionManager) RevokeAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	args := m.Called(ctx, userID)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *MockSessionManager) Rotate(ctx context.Context, refreshValue string) (*auth.Token, *auth.TokenPair, error) {
	args := m.Called(ctx, refreshValue)
	tok, _ := args.Get(0).(*auth.Token)
	p, _ := args.Get(1).(*auth.TokenPair)
	return tok, p, args.Error(2)
}

var (
	_ auth.AccountRepository = (*MockAccountRepository)(nil)
	_ auth.TokenRepository   = (*MockTokenRepository)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
	_ auth.Notifier          = (*MockNotifier)(nil)
	_ auth.IdentityExchanger = (*MockIdentityExchanger)(nil)
	_ auth.TokenGenerator    = (*MockTokenGenerator)(nil)
	_ auth.Recorder          = (*MockRecorder)(nil)
	_ auth.Transactor        = (*MockTransactor)(nil)
	_ auth.TokenPruner       = (*MockTokenPruner)(nil)
	_ auth.AccountManager    = (*MockAccountManager)(nil)
	_ auth.SessionManager    = (*MockSessionManager)(nil)
)
