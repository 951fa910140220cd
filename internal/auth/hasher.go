// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// DefaultBcryptCost is the work factor used unless configured otherwise.
const DefaultBcryptCost = 12

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(errutil.CodeValidation).Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash was produced with weaker parameters
	// than the hasher currently uses.
	NeedsUpgrade(hash string) bool
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost outside bcrypt's accepted
// range is rejected.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code(errutil.CodeValidation).
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", oops.Code(errutil.CodeValidation).With("field", "password").Wrap(err)
		}
		return "", oops.Code(errutil.CodeInternal).With("operation", "hash password").Wrap(err)
	}
	return string(hash), nil
}

// Verify checks if the password matches the hash.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code(errutil.CodeInternal).With("operation", "verify password").Wrap(err)
	}
}

// NeedsUpgrade returns true if the hash cost is below the configured cost or
// the hash is not bcrypt at all.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}
