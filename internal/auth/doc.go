// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements account identity and session tokens.
//
// # Domain Types
//
// User is an account record; Token is a persisted bearer credential stored
// as the SHA-256 digest of the value handed to the client. Storage is
// reached only through AccountRepository and TokenRepository, which accept
// UserFilter, UserPatch, and TokenFilter values.
//
// # Services
//
//   - AccountService - account lifecycle, verification, password reset, OAuth linkage
//   - SessionService - token pair issuance, resolution, rotation, revocation
//   - Authenticator - request-scoped flows composed from the two services
//   - RetentionWorker - periodic deletion of expired tokens
//
// Services are created with New* constructors that validate dependencies
// and accept Option values for logging, clock, metrics, and token
// generation.
//
// # Errors
//
// Every returned error is a samber/oops error wrapping one of ErrNotFound,
// ErrConflict, ErrUnauthorized, ErrInvalidState, ErrUpstream, or
// ErrInvalidInput. Use KindOf to classify an error for a transport.
package auth
