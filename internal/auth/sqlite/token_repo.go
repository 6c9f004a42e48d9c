// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

const tokenColumns = `id, type, value, user_id, expires_at, created_at`

// TokenRepository implements auth.TokenRepository using SQLite.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// InsertMany stores tokens with a single multi-row INSERT.
func (r *TokenRepository) InsertMany(ctx context.Context, tokens []*auth.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)*6)
	for _, tok := range tokens {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
		args = append(args,
			tok.ID.String(),
			string(tok.Type),
			tok.Value,
			tok.UserID.String(),
			toMillis(tok.ExpiresAt),
			toMillis(tok.CreatedAt),
		)
	}

	_, err := querier(ctx, r.db).ExecContext(ctx,
		`INSERT INTO session_tokens (`+tokenColumns+`) VALUES `+strings.Join(placeholders, ", "),
		args...)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("TOKEN_DUPLICATE").Wrap(auth.ErrConflict)
		}
		return oops.Code("TOKEN_INSERT_FAILED").
			With("operation", "insert session tokens").
			With("count", len(tokens)).
			Wrap(err)
	}
	return nil
}

// FindOne returns the first token matching filter.
func (r *TokenRepository) FindOne(ctx context.Context, filter auth.TokenFilter) (*auth.Token, error) {
	where, args, err := tokenWhere(filter)
	if err != nil {
		return nil, err
	}

	var (
		idStr, typeStr, userIDStr string
		expiresAt, createdAt      int64
		tok                       auth.Token
	)
	err = querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM session_tokens WHERE `+where+` LIMIT 1`, args...).
		Scan(&idStr, &typeStr, &tok.Value, &userIDStr, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_FIND_FAILED").
			With("operation", "find session token").
			Wrap(err)
	}

	if tok.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if tok.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	tok.Type = auth.TokenType(typeStr)
	tok.ExpiresAt = fromMillis(expiresAt)
	tok.CreatedAt = fromMillis(createdAt)
	return &tok, nil
}

// DeleteMany removes every token matching filter and returns the count.
func (r *TokenRepository) DeleteMany(ctx context.Context, filter auth.TokenFilter) (int64, error) {
	where, args, err := tokenWhere(filter)
	if err != nil {
		return 0, err
	}

	result, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM session_tokens WHERE `+where, args...)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete session tokens").
			Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "rows affected").
			Wrap(err)
	}
	return n, nil
}

func tokenWhere(filter auth.TokenFilter) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, oops.Code("TOKEN_FILTER_EMPTY").Wrapf(auth.ErrInvalidInput, "token filter has no criteria")
	}

	var (
		conds []string
		args  []any
	)
	if filter.Value != "" {
		conds, args = append(conds, "value = ?"), append(args, filter.Value)
	}
	if filter.UserID.Compare(ulid.ULID{}) != 0 {
		conds, args = append(conds, "user_id = ?"), append(args, filter.UserID.String())
	}
	if filter.Type != "" {
		conds, args = append(conds, "type = ?"), append(args, string(filter.Type))
	}
	if filter.ExpiredBefore != nil {
		conds, args = append(conds, "expires_at <= ?"), append(args, toMillis(*filter.ExpiredBefore))
	}
	return strings.Join(conds, " AND "), args, nil
}

var _ auth.TokenRepository = (*TokenRepository)(nil)
