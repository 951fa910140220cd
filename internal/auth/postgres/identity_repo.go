// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/internal/store"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
// Every statement joins the transaction carried by ctx, if any.
type IdentityRepository struct {
	pool store.DBTX
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(pool store.DBTX) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `id, email, password_hash, activity_ids, profile_ids, version, created_at, updated_at`

// Create stores a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		identity.ID.String(),
		identity.Email,
		identity.PasswordHash,
		store.IDStrings(identity.ActivityIDs),
		store.IDStrings(identity.ProfileIDs),
		identity.Version,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return oops.Code(errutil.CodeConflict).With("email", identity.Email).Wrap(auth.ErrEmailTaken)
		}
		return oops.Code(errutil.CodeInternal).
			With("operation", "insert identity").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an identity by id. Inside a transaction the row stays
// locked until commit, so concurrent linked writers queue instead of
// failing the version check. NO KEY UPDATE does not conflict with the
// KEY SHARE lock taken by inserting a resource that references the row.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	if store.InTx(ctx) {
		query += ` FOR NO KEY UPDATE`
	}
	row := store.Conn(ctx, r.pool).QueryRow(ctx, query, id.String())
	return scanIdentity(row, "identity_id", id.String())
}

// GetByEmail retrieves an identity by normalized email.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := store.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
	return scanIdentity(row, "email", email)
}

// UpdateCredentials replaces email and password hash without touching the
// reference lists or version.
func (r *IdentityRepository) UpdateCredentials(ctx context.Context, id ulid.ULID, email, passwordHash string) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE identities SET email = $2, password_hash = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), email, passwordHash, time.Now())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return oops.Code(errutil.CodeConflict).With("email", email).Wrap(auth.ErrEmailTaken)
		}
		return oops.Code(errutil.CodeInternal).
			With("operation", "update credentials").
			With("identity_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(errutil.CodeNotFound).With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// SaveRefs writes both reference lists guarded by the version column.
func (r *IdentityRepository) SaveRefs(ctx context.Context, identity *auth.Identity) error {
	conn := store.Conn(ctx, r.pool)
	now := time.Now()
	tag, err := conn.Exec(ctx, `
		UPDATE identities
		SET activity_ids = $2, profile_ids = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $5
	`,
		identity.ID.String(),
		store.IDStrings(identity.ActivityIDs),
		store.IDStrings(identity.ProfileIDs),
		now,
		identity.Version,
	)
	if err != nil {
		return oops.Code(errutil.CodeInternal).
			With("operation", "save identity refs").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := conn.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM identities WHERE id = $1)`, identity.ID.String(),
		).Scan(&exists); err != nil {
			return oops.Code(errutil.CodeInternal).With("operation", "check identity exists").Wrap(err)
		}
		if !exists {
			return oops.Code(errutil.CodeNotFound).With("identity_id", identity.ID.String()).Wrap(auth.ErrNotFound)
		}
		return oops.Code(errutil.CodeConflict).
			With("identity_id", identity.ID.String()).
			With("version", identity.Version).
			Wrap(auth.ErrVersionConflict)
	}

	identity.Version++
	identity.UpdatedAt = now
	return nil
}

func scanIdentity(row pgx.Row, key, value string) (*auth.Identity, error) {
	var (
		identity             auth.Identity
		idStr                string
		activities, profiles []string
	)
	err := row.Scan(
		&idStr,
		&identity.Email,
		&identity.PasswordHash,
		&activities,
		&profiles,
		&identity.Version,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(errutil.CodeNotFound).With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "scan identity").With(key, value).Wrap(err)
	}

	if identity.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "parse identity id").Wrap(err)
	}
	if identity.ActivityIDs, err = store.ParseIDs(activities); err != nil {
		return nil, err
	}
	if identity.ProfileIDs, err = store.ParseIDs(profiles); err != nil {
		return nil, err
	}
	return &identity, nil
}
