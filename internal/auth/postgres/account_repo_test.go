// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/pkg/errutil"
)

var accountRowColumns = []string{
	"id", "email", "password_hash", "first_name", "last_name", "role", "email_verified",
	"signup_token", "reset_password_token", "oauth_google", "oauth_github",
	"last_request_at", "created_at", "updated_at",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return mock
}

func sampleUser() *auth.User {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &auth.User{
		ID:            ulid.Make(),
		Email:         "Ada@Example.com",
		PasswordHash:  "$argon2id$hash",
		FirstName:     "Ada",
		LastName:      "Lovelace",
		Role:          auth.RoleUser,
		SignupToken:   "signup-abc",
		CreatedAt:     now,
		UpdatedAt:     now,
		LastRequestAt: nil,
	}
}

func TestAccountRepository_Insert(t *testing.T) {
	t.Run("stores account", func(t *testing.T) {
		mock := newMockPool(t)
		user := sampleUser()

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
			WithArgs(
				user.ID.String(), user.Email, user.PasswordHash, user.FirstName, user.LastName,
				"user", false, pgxmock.AnyArg(), pgxmock.AnyArg(), false, false,
				pgxmock.AnyArg(), user.CreatedAt, user.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewAccountRepository(mock).Insert(context.Background(), user))
	})

	t.Run("duplicate maps to conflict", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		err := NewAccountRepository(mock).Insert(context.Background(), sampleUser())
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrConflict)
		errutil.AssertErrorCode(t, err, "ACCOUNT_DUPLICATE")
	})

	t.Run("other failure is internal", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
			WillReturnError(errors.New("connection reset"))

		err := NewAccountRepository(mock).Insert(context.Background(), sampleUser())
		require.Error(t, err)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "ACCOUNT_INSERT_FAILED")
	})
}

func TestAccountRepository_FindOne(t *testing.T) {
	user := sampleUser()
	lastSeen := user.CreatedAt.Add(time.Hour)

	tests := []struct {
		name      string
		filter    auth.UserFilter
		query     string
		args      []any
		setupRows func(mock pgxmock.PgxPoolIface, query string, args []any)
		wantErr   error
		wantCode  string
	}{
		{
			name:   "by email is case-insensitive",
			filter: auth.UserFilter{Email: "ada@example.com"},
			query:  "WHERE lower(email) = lower($1) LIMIT 1",
			args:   []any{"ada@example.com"},
		},
		{
			name:   "by signup token",
			filter: auth.UserFilter{SignupToken: "signup-abc"},
			query:  "WHERE signup_token = $1 LIMIT 1",
			args:   []any{"signup-abc"},
		},
		{
			name:   "by email excluding an id",
			filter: auth.UserFilter{Email: "ada@example.com", ExcludeID: user.ID},
			query:  "WHERE lower(email) = lower($1) AND id <> $2 LIMIT 1",
			args:   []any{"ada@example.com", user.ID.String()},
		},
		{
			name:   "by id and reset token",
			filter: auth.UserFilter{ID: user.ID, ResetPasswordToken: "reset-1"},
			query:  "WHERE id = $1 AND reset_password_token = $2 LIMIT 1",
			args:   []any{user.ID.String(), "reset-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			rows := pgxmock.NewRows(accountRowColumns).AddRow(
				user.ID.String(), user.Email, user.PasswordHash, user.FirstName, user.LastName,
				"user", true, (*string)(nil), (*string)(nil), true, false,
				&lastSeen, user.CreatedAt, user.UpdatedAt,
			)
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).WithArgs(tt.args...).WillReturnRows(rows)

			got, err := NewAccountRepository(mock).FindOne(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)
			assert.Equal(t, user.Email, got.Email)
			assert.Equal(t, auth.RoleUser, got.Role)
			assert.True(t, got.EmailVerified)
			assert.Empty(t, got.SignupToken)
			assert.Empty(t, got.ResetPasswordToken)
			assert.True(t, got.OAuth.Google)
			assert.False(t, got.OAuth.GitHub)
			require.NotNil(t, got.LastRequestAt)
			assert.True(t, lastSeen.Equal(*got.LastRequestAt))
		})
	}
}

func TestAccountRepository_FindOne_Errors(t *testing.T) {
	t.Run("no rows is not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE")).
			WillReturnRows(pgxmock.NewRows(accountRowColumns))

		_, err := NewAccountRepository(mock).FindOne(context.Background(), auth.UserFilter{Email: "x@y.z"})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	})

	t.Run("query failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE")).
			WillReturnError(errors.New("connection refused"))

		_, err := NewAccountRepository(mock).FindOne(context.Background(), auth.UserFilter{Email: "x@y.z"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_FIND_FAILED")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("empty filter is rejected without a query", func(t *testing.T) {
		mock := newMockPool(t)

		_, err := NewAccountRepository(mock).FindOne(context.Background(), auth.UserFilter{ExcludeID: ulid.Make()})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrInvalidInput)
		errutil.AssertErrorCode(t, err, "ACCOUNT_FILTER_EMPTY")
	})

	t.Run("corrupt id", func(t *testing.T) {
		mock := newMockPool(t)
		now := time.Now()
		rows := pgxmock.NewRows(accountRowColumns).AddRow(
			"not-a-ulid", "a@b.c", "", "Ab", "Cd", "user", false,
			(*string)(nil), (*string)(nil), false, false, (*time.Time)(nil), now, now,
		)
		mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE")).WillReturnRows(rows)

		_, err := NewAccountRepository(mock).FindOne(context.Background(), auth.UserFilter{Email: "a@b.c"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_ID")
	})
}

func TestAccountRepository_UpdateFields(t *testing.T) {
	id := ulid.Make()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	newRepo := func(mock pgxmock.PgxPoolIface) *AccountRepository {
		repo := NewAccountRepository(mock)
		repo.now = func() time.Time { return now }
		return repo
	}

	t.Run("verification clears signup token in one statement", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE accounts SET signup_token = $1, email_verified = TRUE, updated_at = $2 WHERE id = $3")).
			WithArgs(pgxmock.AnyArg(), now, id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		empty := ""
		err := newRepo(mock).UpdateFields(context.Background(), id, auth.UserPatch{
			SignupToken:  &empty,
			MarkVerified: true,
		})
		require.NoError(t, err)
	})

	t.Run("password change clears reset token", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE accounts SET password_hash = $1, reset_password_token = $2, updated_at = $3 WHERE id = $4")).
			WithArgs("$argon2id$new", pgxmock.AnyArg(), now, id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		hash, empty := "$argon2id$new", ""
		err := newRepo(mock).UpdateFields(context.Background(), id, auth.UserPatch{
			PasswordHash:       &hash,
			ResetPasswordToken: &empty,
		})
		require.NoError(t, err)
	})

	t.Run("provider link", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE accounts SET email_verified = TRUE, oauth_github = TRUE, updated_at = $1 WHERE id = $2")).
			WithArgs(now, id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := newRepo(mock).UpdateFields(context.Background(), id, auth.UserPatch{
			MarkVerified: true,
			LinkProvider: auth.ProviderGitHub,
		})
		require.NoError(t, err)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		first := "Grace"
		err := newRepo(mock).UpdateFields(context.Background(), id, auth.UserPatch{FirstName: &first})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("email collision is conflict", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET email = $1")).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		email := "taken@example.com"
		err := newRepo(mock).UpdateFields(context.Background(), id, auth.UserPatch{Email: &email})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrConflict)
		errutil.AssertErrorCode(t, err, "ACCOUNT_DUPLICATE")
	})

	t.Run("exec failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET")).
			WillReturnError(errors.New("deadlock detected"))

		first := "Grace"
		err := newRepo(mock).UpdateFields(context.Background(), id, auth.UserPatch{FirstName: &first})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_UPDATE_FAILED")
		errutil.AssertErrorContext(t, err, "user_id", id.String())
	})
}

func TestAccountSets_AlwaysTouchesUpdatedAt(t *testing.T) {
	now := time.Now()
	sets, args := accountSets(auth.UserPatch{}, now)
	assert.Equal(t, []string{"updated_at = $1"}, sets)
	assert.Equal(t, []any{now}, args)
}
