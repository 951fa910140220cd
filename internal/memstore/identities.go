// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// IdentityRepository implements auth.IdentityRepository in memory.
type IdentityRepository struct {
	store *Store
}

// Create stores a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	return r.store.do(ctx, func(d *data) error {
		if _, taken := d.emails[identity.Email]; taken {
			return oops.Code(errutil.CodeConflict).With("email", identity.Email).Wrap(auth.ErrEmailTaken)
		}
		if _, exists := d.identities[identity.ID]; exists {
			return oops.Code(errutil.CodeConflict).
				With("identity_id", identity.ID.String()).
				Errorf("identity already exists")
		}
		d.identities[identity.ID] = identity.Clone()
		d.emails[identity.Email] = identity.ID
		return nil
	})
}

// GetByID retrieves an identity by id.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	var out *auth.Identity
	err := r.store.do(ctx, func(d *data) error {
		identity, ok := d.identities[id]
		if !ok {
			return oops.Code(errutil.CodeNotFound).With("identity_id", id.String()).Wrap(auth.ErrNotFound)
		}
		out = identity.Clone()
		return nil
	})
	return out, err
}

// GetByEmail retrieves an identity by normalized email.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	var out *auth.Identity
	err := r.store.do(ctx, func(d *data) error {
		id, ok := d.emails[email]
		if !ok {
			return oops.Code(errutil.CodeNotFound).With("email", email).Wrap(auth.ErrNotFound)
		}
		out = d.identities[id].Clone()
		return nil
	})
	return out, err
}

// UpdateCredentials replaces email and password hash.
func (r *IdentityRepository) UpdateCredentials(ctx context.Context, id ulid.ULID, email, passwordHash string) error {
	return r.store.do(ctx, func(d *data) error {
		stored, ok := d.identities[id]
		if !ok {
			return oops.Code(errutil.CodeNotFound).With("identity_id", id.String()).Wrap(auth.ErrNotFound)
		}
		if holder, taken := d.emails[email]; taken && holder != id {
			return oops.Code(errutil.CodeConflict).With("email", email).Wrap(auth.ErrEmailTaken)
		}

		updated := stored.Clone()
		updated.Email = email
		updated.PasswordHash = passwordHash
		updated.UpdatedAt = time.Now()

		delete(d.emails, stored.Email)
		d.emails[email] = id
		d.identities[id] = updated
		return nil
	})
}

// SaveRefs writes both reference lists if identity.Version is current.
func (r *IdentityRepository) SaveRefs(ctx context.Context, identity *auth.Identity) error {
	return r.store.do(ctx, func(d *data) error {
		stored, ok := d.identities[identity.ID]
		if !ok {
			return oops.Code(errutil.CodeNotFound).With("identity_id", identity.ID.String()).Wrap(auth.ErrNotFound)
		}
		if stored.Version != identity.Version {
			return oops.Code(errutil.CodeConflict).
				With("identity_id", identity.ID.String()).
				With("version", identity.Version).
				Wrap(auth.ErrVersionConflict)
		}

		now := time.Now()
		updated := stored.Clone()
		updated.ActivityIDs = slices.Clone(identity.ActivityIDs)
		updated.ProfileIDs = slices.Clone(identity.ProfileIDs)
		updated.Version++
		updated.UpdatedAt = now
		d.identities[identity.ID] = updated

		identity.Version = updated.Version
		identity.UpdatedAt = now
		return nil
	})
}
