// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

const accountColumns = `id, email, password_hash, first_name, last_name, role, email_verified,
	signup_token, reset_password_token, oauth_google, oauth_github,
	last_request_at, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using SQLite.
type AccountRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

// Insert stores a new account.
func (r *AccountRepository) Insert(ctx context.Context, user *auth.User) error {
	_, err := querier(ctx, r.db).ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		string(user.Role),
		user.EmailVerified,
		nullable(user.SignupToken),
		nullable(user.ResetPasswordToken),
		user.OAuth.Google,
		user.OAuth.GitHub,
		nullableMillis(user.LastRequestAt),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("user_id", user.ID.String()).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "insert account").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// FindOne returns the first account matching filter.
func (r *AccountRepository) FindOne(ctx context.Context, filter auth.UserFilter) (*auth.User, error) {
	where, args, err := accountWhere(filter)
	if err != nil {
		return nil, err
	}

	row := querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where+` LIMIT 1`, args...)

	user, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_FIND_FAILED").
			With("operation", "find account").
			Wrap(err)
	}
	return user, nil
}

// UpdateFields applies patch in a single UPDATE statement.
func (r *AccountRepository) UpdateFields(ctx context.Context, id ulid.ULID, patch auth.UserPatch) error {
	sets, args := accountSets(patch, r.now())
	args = append(args, id.String())

	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("user_id", id.String()).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("user_id", id.String()).
			Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "rows affected").
			With("user_id", id.String()).
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// accountWhere mirrors the PostgreSQL filter. lower() folds ASCII only.
func accountWhere(filter auth.UserFilter) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, oops.Code("ACCOUNT_FILTER_EMPTY").Wrapf(auth.ErrInvalidInput, "account filter has no criteria")
	}

	var (
		conds []string
		args  []any
	)
	if filter.ID.Compare(ulid.ULID{}) != 0 {
		conds, args = append(conds, "id = ?"), append(args, filter.ID.String())
	}
	if filter.Email != "" {
		conds, args = append(conds, "lower(email) = lower(?)"), append(args, filter.Email)
	}
	if filter.SignupToken != "" {
		conds, args = append(conds, "signup_token = ?"), append(args, filter.SignupToken)
	}
	if filter.ResetPasswordToken != "" {
		conds, args = append(conds, "reset_password_token = ?"), append(args, filter.ResetPasswordToken)
	}
	if filter.ExcludeID.Compare(ulid.ULID{}) != 0 {
		conds, args = append(conds, "id <> ?"), append(args, filter.ExcludeID.String())
	}
	return strings.Join(conds, " AND "), args, nil
}

func accountSets(patch auth.UserPatch, now time.Time) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(col string, arg any) {
		sets = append(sets, col+" = ?")
		args = append(args, arg)
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.FirstName != nil {
		set("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		set("last_name", *patch.LastName)
	}
	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.SignupToken != nil {
		set("signup_token", nullable(*patch.SignupToken))
	}
	if patch.ResetPasswordToken != nil {
		set("reset_password_token", nullable(*patch.ResetPasswordToken))
	}
	if patch.MarkVerified {
		sets = append(sets, "email_verified = 1")
	}
	switch patch.LinkProvider {
	case auth.ProviderGoogle:
		sets = append(sets, "oauth_google = 1")
	case auth.ProviderGitHub:
		sets = append(sets, "oauth_github = 1")
	}
	if patch.LastRequestAt != nil {
		set("last_request_at", toMillis(*patch.LastRequestAt))
	}
	set("updated_at", toMillis(now))
	return sets, args
}

func scanAccount(row *sql.Row) (*auth.User, error) {
	var (
		idStr         string
		user          auth.User
		role          string
		signupToken   sql.NullString
		resetToken    sql.NullString
		lastRequestAt sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&role,
		&user.EmailVerified,
		&signupToken,
		&resetToken,
		&user.OAuth.Google,
		&user.OAuth.GitHub,
		&lastRequestAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	user.ID = id
	user.Role = auth.Role(role)
	user.SignupToken = signupToken.String
	user.ResetPasswordToken = resetToken.String
	if lastRequestAt.Valid {
		t := fromMillis(lastRequestAt.Int64)
		user.LastRequestAt = &t
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
