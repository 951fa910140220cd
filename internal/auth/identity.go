// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// Credential constraints.
const (
	MinPasswordLength = 6
	// MaxPasswordLength is the bcrypt input limit.
	MaxPasswordLength = 72
	MaxEmailLength    = 254
)

// RefKind names one of an identity's reference lists.
type RefKind string

// Reference lists held on every identity.
const (
	RefActivities RefKind = "activities"
	RefProfiles   RefKind = "profiles"
)

// Identity is an authenticated account together with the ordered ids of the
// resources it owns.
type Identity struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	ActivityIDs  []ulid.ULID
	ProfileIDs   []ulid.ULID
	// Version increments on every reference-list save. Stores reject a save
	// whose Version no longer matches.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewIdentity creates an Identity with a fresh id.
func NewIdentity(email, passwordHash string) (*Identity, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code(errutil.CodeValidation).Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Identity{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		ActivityIDs:  []ulid.ULID{},
		ProfileIDs:   []ulid.ULID{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims and lower-cases email and rejects obviously invalid input.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", oops.Code(errutil.CodeValidation).With("field", "email").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return "", oops.Code(errutil.CodeValidation).With("field", "email").Errorf("email exceeds %d characters", MaxEmailLength)
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", oops.Code(errutil.CodeValidation).With("field", "email").Errorf("email must contain a local part and a domain")
	}
	return email, nil
}

// ValidatePassword checks plaintext length bounds.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(errutil.CodeValidation).With("field", "password").
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code(errutil.CodeValidation).With("field", "password").
			Errorf("password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// Refs returns the reference list for kind.
func (i *Identity) Refs(kind RefKind) []ulid.ULID {
	switch kind {
	case RefActivities:
		return i.ActivityIDs
	case RefProfiles:
		return i.ProfileIDs
	}
	return nil
}

// AppendRef adds id to the end of the kind list. Appending an id already
// present is a no-op.
func (i *Identity) AppendRef(kind RefKind, id ulid.ULID) {
	refs := i.Refs(kind)
	if slices.Contains(refs, id) {
		return
	}
	i.setRefs(kind, append(slices.Clone(refs), id))
}

// RemoveRef drops id from the kind list and reports whether it was present.
func (i *Identity) RemoveRef(kind RefKind, id ulid.ULID) bool {
	refs := i.Refs(kind)
	idx := slices.Index(refs, id)
	if idx < 0 {
		return false
	}
	i.setRefs(kind, slices.Delete(slices.Clone(refs), idx, idx+1))
	return true
}

func (i *Identity) setRefs(kind RefKind, refs []ulid.ULID) {
	switch kind {
	case RefActivities:
		i.ActivityIDs = refs
	case RefProfiles:
		i.ProfileIDs = refs
	}
	i.UpdatedAt = time.Now()
}

// Clone returns a deep copy so callers can mutate reference lists freely.
func (i *Identity) Clone() *Identity {
	c := *i
	c.ActivityIDs = slices.Clone(i.ActivityIDs)
	c.ProfileIDs = slices.Clone(i.ProfileIDs)
	return &c
}

// IdentityRepository manages identity persistence.
type IdentityRepository interface {
	// Create persists a new identity.
	// Returns an error wrapping ErrEmailTaken if the email is registered.
	Create(ctx context.Context, identity *Identity) error

	// GetByID retrieves an identity by id.
	// Returns an error wrapping ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByEmail retrieves an identity by normalized email.
	// Returns an error wrapping ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// UpdateCredentials replaces email and password hash, leaving the
	// reference lists untouched.
	// Returns ErrNotFound or ErrEmailTaken wrapped.
	UpdateCredentials(ctx context.Context, id ulid.ULID, email, passwordHash string) error

	// SaveRefs persists both reference lists if the stored Version equals
	// identity.Version, then increments identity.Version.
	// Returns an error wrapping ErrVersionConflict on a stale version and
	// ErrNotFound if the identity vanished.
	SaveRefs(ctx context.Context, identity *Identity) error
}
