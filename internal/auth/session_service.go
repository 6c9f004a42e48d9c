// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// SessionConfig holds token lifetimes.
type SessionConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// DefaultSessionConfig returns the default lifetimes.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{AccessTTL: DefaultAccessTTL, RefreshTTL: DefaultRefreshTTL}
}

// Validate checks that both lifetimes are positive and access expires first.
func (c SessionConfig) Validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return oops.Code("SESSION_CONFIG_INVALID").
			With("access_ttl", c.AccessTTL.String()).
			With("refresh_ttl", c.RefreshTTL.String()).
			Wrapf(ErrInvalidInput, "token lifetimes must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return oops.Code("SESSION_CONFIG_INVALID").
			With("access_ttl", c.AccessTTL.String()).
			With("refresh_ttl", c.RefreshTTL.String()).
			Wrapf(ErrInvalidInput, "access token lifetime must be shorter than refresh token lifetime")
	}
	return nil
}

// SessionService issues, resolves, and revokes bearer tokens.
type SessionService struct {
	tokens    TokenRepository
	tx        Transactor
	cfg       SessionConfig
	generator TokenGenerator
	logger    *slog.Logger
	now       func() time.Time
}

// NewSessionService creates a SessionService. A nil transactor runs
// rotation without a transaction.
func NewSessionService(tokens TokenRepository, tx Transactor, cfg SessionConfig, opts ...Option) (*SessionService, error) {
	if tokens == nil {
		return nil, oops.Code("SESSION_SERVICE_INVALID").Errorf("token repository is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tx == nil {
		tx = NopTransactor{}
	}
	o := buildOptions(opts)
	return &SessionService{
		tokens:    tokens,
		tx:        tx,
		cfg:       cfg,
		generator: o.generator,
		logger:    o.logger,
		now:       o.now,
	}, nil
}

// IssueTokenPair creates an access and a refresh token for userID in one
// insert.
func (s *SessionService) IssueTokenPair(ctx context.Context, userID ulid.ULID) (*TokenPair, error) {
	if isZeroULID(userID) {
		return nil, oops.Code("SESSION_INVALID_USER").Wrapf(ErrInvalidInput, "user ID cannot be zero")
	}

	access, err := s.generator.Generate()
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").With("operation", "generate access token").Wrap(err)
	}
	refresh, err := s.generator.Generate()
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").With("operation", "generate refresh token").Wrap(err)
	}

	now := s.now().UTC()
	pair := &TokenPair{
		Access:  TokenGrant{Type: TokenTypeAccess, Value: access, ExpiresAt: now.Add(s.cfg.AccessTTL)},
		Refresh: TokenGrant{Type: TokenTypeRefresh, Value: refresh, ExpiresAt: now.Add(s.cfg.RefreshTTL)},
	}
	rows := []*Token{
		{ID: ulid.Make(), Type: TokenTypeAccess, Value: HashToken(access), UserID: userID, ExpiresAt: pair.Access.ExpiresAt, CreatedAt: now},
		{ID: ulid.Make(), Type: TokenTypeRefresh, Value: HashToken(refresh), UserID: userID, ExpiresAt: pair.Refresh.ExpiresAt, CreatedAt: now},
	}
	if err := s.tokens.InsertMany(ctx, rows); err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").
			With("user_id", userID.String()).
			With("operation", "insert tokens").
			Wrap(err)
	}

	s.logger.DebugContext(ctx, "token pair issued", "user_id", userID.String())
	return pair, nil
}

// Lookup returns the stored token for a bearer value. Absent and expired
// tokens both return ErrNotFound.
func (s *SessionService) Lookup(ctx context.Context, value string) (*Token, error) {
	if value == "" {
		return nil, tokenNotFound()
	}
	tok, err := s.tokens.FindOne(ctx, TokenFilter{Value: HashToken(value)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, tokenNotFound()
		}
		return nil, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}
	if tok.IsExpiredAt(s.now()) {
		return nil, tokenNotFound()
	}
	return tok, nil
}

// ResolveUserID returns the owner of a live token. ok is false when the
// token is unknown or expired; err is set only on storage failure.
func (s *SessionService) ResolveUserID(ctx context.Context, value string) (ulid.ULID, bool, error) {
	tok, err := s.Lookup(ctx, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, false, nil
		}
		return ulid.ULID{}, false, err
	}
	return tok.UserID, true, nil
}

// Revoke deletes a single token by bearer value.
func (s *SessionService) Revoke(ctx context.Context, value string) error {
	n, err := s.tokens.DeleteMany(ctx, TokenFilter{Value: HashToken(value)})
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").Wrap(err)
	}
	if n == 0 {
		return tokenNotFound()
	}
	return nil
}

// RevokeAll deletes every token owned by userID and returns the count.
func (s *SessionService) RevokeAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	if isZeroULID(userID) {
		return 0, oops.Code("SESSION_INVALID_USER").Wrapf(ErrInvalidInput, "user ID cannot be zero")
	}
	n, err := s.tokens.DeleteMany(ctx, TokenFilter{UserID: userID})
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	s.logger.DebugContext(ctx, "tokens revoked", "user_id", userID.String(), "count", n)
	return n, nil
}

// Rotate exchanges a live refresh token for a new pair. The presented token
// is deleted in the same transaction as the new pair is inserted, so a
// refresh token can be spent at most once.
func (s *SessionService) Rotate(ctx context.Context, refreshValue string) (*Token, *TokenPair, error) {
	var (
		spent *Token
		pair  *TokenPair
	)
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		tok, err := s.Lookup(ctx, refreshValue)
		if err != nil {
			return err
		}
		if tok.Type != TokenTypeRefresh {
			return tokenNotFound()
		}
		n, err := s.tokens.DeleteMany(ctx, TokenFilter{Value: tok.Value})
		if err != nil {
			return oops.Code("SESSION_ROTATE_FAILED").With("operation", "delete refresh token").Wrap(err)
		}
		if n == 0 {
			// Spent concurrently.
			return tokenNotFound()
		}
		pair, err = s.IssueTokenPair(ctx, tok.UserID)
		if err != nil {
			return err
		}
		spent = tok
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return spent, pair, nil
}

// PruneExpired deletes every token whose expiry has passed.
func (s *SessionService) PruneExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC()
	n, err := s.tokens.DeleteMany(ctx, TokenFilter{ExpiredBefore: &cutoff})
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}

func tokenNotFound() error {
	return oops.Code("SESSION_NOT_FOUND").Wrapf(ErrNotFound, "token not found or expired")
}
