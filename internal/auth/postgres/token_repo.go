// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

const tokenColumns = `id, type, value, user_id, expires_at, created_at`

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	pool Pool
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(pool Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// InsertMany stores tokens with a single multi-row INSERT, so either every
// token is stored or none is.
func (r *TokenRepository) InsertMany(ctx context.Context, tokens []*auth.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	values := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)*6)
	for i, tok := range tokens {
		n := i * 6
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		args = append(args,
			tok.ID.String(),
			string(tok.Type),
			tok.Value,
			tok.UserID.String(),
			tok.ExpiresAt,
			tok.CreatedAt,
		)
	}

	_, err := querier(ctx, r.pool).Exec(ctx,
		`INSERT INTO session_tokens (`+tokenColumns+`) VALUES `+strings.Join(values, ", "),
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

	row := querier(ctx, r.pool).QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM session_tokens WHERE `+where+` LIMIT 1`, args...)

	tok, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_FIND_FAILED").
			With("operation", "find session token").
			Wrap(err)
	}
	return tok, nil
}

// DeleteMany removes every token matching filter and returns the count.
// Deleting nothing is not an error.
func (r *TokenRepository) DeleteMany(ctx context.Context, filter auth.TokenFilter) (int64, error) {
	where, args, err := tokenWhere(filter)
	if err != nil {
		return 0, err
	}

	result, err := querier(ctx, r.pool).Exec(ctx, `DELETE FROM session_tokens WHERE `+where, args...)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete session tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func tokenWhere(filter auth.TokenFilter) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, oops.Code("TOKEN_FILTER_EMPTY").Wrapf(auth.ErrInvalidInput, "token filter has no criteria")
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Value != "" {
		add("value = $%d", filter.Value)
	}
	if filter.UserID.Compare(ulid.ULID{}) != 0 {
		add("user_id = $%d", filter.UserID.String())
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.ExpiredBefore != nil {
		add("expires_at <= $%d", *filter.ExpiredBefore)
	}
	return strings.Join(conds, " AND "), args, nil
}

// scanToken scans a single row into a Token.
// Callers are responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*auth.Token, error) {
	var (
		idStr     string
		typeStr   string
		userIDStr string
		tok       auth.Token
	)
	if err := row.Scan(&idStr, &typeStr, &tok.Value, &userIDStr, &tok.ExpiresAt, &tok.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	return buildToken(&tok, idStr, typeStr, userIDStr)
}

func buildToken(tok *auth.Token, idStr, typeStr, userIDStr string) (*auth.Token, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", idStr).
			Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").
			With("operation", "parse token user id").
			With("user_id", userIDStr).
			Wrap(err)
	}
	tok.ID = id
	tok.UserID = userID
	tok.Type = auth.TokenType(typeStr)
	tok.ExpiresAt = tok.ExpiresAt.UTC()
	tok.CreatedAt = tok.CreatedAt.UTC()
	return tok, nil
}

var _ auth.TokenRepository = (*TokenRepository)(nil)
