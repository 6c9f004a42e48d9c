// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token generation configuration.
const (
	DefaultTokenBytes = 32 // 32 bytes = 64 hex chars
	MinTokenBytes     = 16
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// Token is a persisted bearer credential. Value holds the SHA-256 digest of
// the bearer string; the bearer string itself is only handed out at issuance.
type Token struct {
	ID        ulid.ULID
	Type      TokenType
	Value     string
	UserID    ulid.ULID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpiredAt returns true if the token is no longer valid at t.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenGrant is a freshly issued bearer credential.
type TokenGrant struct {
	Type      TokenType
	Value     string
	ExpiresAt time.Time
}

// TokenPair is the access and refresh credential produced by one issuance.
type TokenPair struct {
	Access  TokenGrant
	Refresh TokenGrant
}

// TokenFilter selects tokens. At least one field must be set. ExpiredBefore
// matches tokens whose ExpiresAt is at or before the given time.
type TokenFilter struct {
	Value         string
	UserID        ulid.ULID
	Type          TokenType
	ExpiredBefore *time.Time
}

// IsEmpty reports whether no criteria are set.
func (f TokenFilter) IsEmpty() bool {
	return f.Value == "" && isZeroULID(f.UserID) && f.Type == "" && f.ExpiredBefore == nil
}

// TokenRepository manages session token persistence.
type TokenRepository interface {
	// InsertMany stores all tokens or none of them.
	InsertMany(ctx context.Context, tokens []*Token) error

	// FindOne returns the first token matching filter, or ErrNotFound.
	FindOne(ctx context.Context, filter TokenFilter) (*Token, error)

	// DeleteMany removes every token matching filter and returns the count.
	DeleteMany(ctx context.Context, filter TokenFilter) (int64, error)
}

// TokenGenerator produces unguessable opaque strings.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator reads Bytes bytes from crypto/rand and hex-encodes them.
type RandomTokenGenerator struct {
	Bytes int
}

// NewRandomTokenGenerator returns a generator for n-byte tokens. Values below
// MinTokenBytes are raised to MinTokenBytes.
func NewRandomTokenGenerator(n int) *RandomTokenGenerator {
	if n < MinTokenBytes {
		n = MinTokenBytes
	}
	return &RandomTokenGenerator{Bytes: n}
}

// Generate returns a new hex-encoded random token.
func (g *RandomTokenGenerator) Generate() (string, error) {
	n := g.Bytes
	if n < MinTokenBytes {
		n = DefaultTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", n).
			Wrap(err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken computes the SHA-256 hex digest stored in place of a bearer token.
func HashToken(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

func isZeroULID(id ulid.ULID) bool {
	return id.Compare(ulid.ULID{}) == 0
}
