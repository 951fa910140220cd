// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package auth provides credentials, session tokens and the ownership guard.
//
// # Domain Types
//
// Identity is created with NewIdentity, which validates the email and
// requires a password hash produced by a PasswordHasher. Direct struct
// initialization bypasses validation. Repository implementations receive
// pre-validated identities.
//
// # Services
//
//   - Service: signup, login, credential update and request authorization
//   - TokenService: issues and verifies stateless HS256 session tokens
//   - Authorize: the ownership guard applied before owner-only writes
//
// Tokens are never revoked. Expiry is the only bound on their lifetime.
package auth
