// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Sentinel errors. Every error returned by this package wraps exactly one of
// these so callers can classify failures with errors.Is or KindOf.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized is returned for missing, invalid, or expired credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when an operation does not apply to the
	// current shape of the account.
	ErrInvalidState = errors.New("invalid state")

	// ErrUpstream is returned when an external collaborator failed.
	ErrUpstream = errors.New("upstream failure")

	// ErrInvalidInput is returned when request data fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind is the coarse classification of an error, suitable for mapping to a
// transport status.
type Kind string

// Error kinds.
const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindInvalidState Kind = "invalid_state"
	KindUpstream     Kind = "upstream_failure"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

// KindOf classifies err. A nil error has an empty kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}
