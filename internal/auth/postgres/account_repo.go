// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

const accountColumns = `id, email, password_hash, first_name, last_name, role, email_verified,
	signup_token, reset_password_token, oauth_google, oauth_github,
	last_request_at, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
	now  func() time.Time
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool, now: time.Now}
}

// Insert stores a new account.
func (r *AccountRepository) Insert(ctx context.Context, user *auth.User) error {
	_, err := querier(ctx, r.pool).Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
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
		user.LastRequestAt,
		user.CreatedAt,
		user.UpdatedAt,
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

	row := querier(ctx, r.pool).QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where+` LIMIT 1`, args...)

	user, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	sets, args := accountSets(patch, r.now().UTC())
	args = append(args, id.String())

	result, err := querier(ctx, r.pool).Exec(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+fmt.Sprintf(` WHERE id = $%d`, len(args)),
		args...)
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
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func accountWhere(filter auth.UserFilter) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, oops.Code("ACCOUNT_FILTER_EMPTY").Wrapf(auth.ErrInvalidInput, "account filter has no criteria")
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ID.Compare(ulid.ULID{}) != 0 {
		add("id = $%d", filter.ID.String())
	}
	if filter.Email != "" {
		add("lower(email) = lower($%d)", filter.Email)
	}
	if filter.SignupToken != "" {
		add("signup_token = $%d", filter.SignupToken)
	}
	if filter.ResetPasswordToken != "" {
		add("reset_password_token = $%d", filter.ResetPasswordToken)
	}
	if filter.ExcludeID.Compare(ulid.ULID{}) != 0 {
		add("id <> $%d", filter.ExcludeID.String())
	}
	return strings.Join(conds, " AND "), args, nil
}

// accountSets renders patch as SET fragments. updated_at is always set.
func accountSets(patch auth.UserPatch, now time.Time) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(col string, arg any) {
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
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
		sets = append(sets, "email_verified = TRUE")
	}
	switch patch.LinkProvider {
	case auth.ProviderGoogle:
		sets = append(sets, "oauth_google = TRUE")
	case auth.ProviderGitHub:
		sets = append(sets, "oauth_github = TRUE")
	}
	if patch.LastRequestAt != nil {
		set("last_request_at", *patch.LastRequestAt)
	}
	set("updated_at", now)
	return sets, args
}

// scanAccount scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.User, error) {
	var (
		idStr         string
		user          auth.User
		role          string
		signupToken   *string
		resetToken    *string
		lastRequestAt *time.Time
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
		&user.CreatedAt,
		&user.UpdatedAt,
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
	user.SignupToken = deref(signupToken)
	user.ResetPasswordToken = deref(resetToken)
	user.LastRequestAt = lastRequestAt
	return &user, nil
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
