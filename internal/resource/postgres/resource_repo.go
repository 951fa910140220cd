// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package postgres implements the resource repository on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/resource"
	"github.com/fittrack/fittrack/internal/store"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// tables maps each kind to its table. Table names never come from input.
var tables = map[resource.Kind]string{
	resource.KindActivity: "activities",
	resource.KindProfile:  "profiles",
}

const resourceColumns = `id, owner_id, payload, artifact_path, created_at, updated_at`

// ResourceRepository implements resource.Repository using PostgreSQL.
type ResourceRepository struct {
	pool store.DBTX
}

// NewResourceRepository creates a new ResourceRepository.
func NewResourceRepository(pool store.DBTX) *ResourceRepository {
	return &ResourceRepository{pool: pool}
}

func table(kind resource.Kind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", kind.Validate()
	}
	return t, nil
}

func notFound(kind resource.Kind, id ulid.ULID) error {
	return oops.Code(errutil.CodeNotFound).
		With("kind", string(kind)).
		With("resource_id", id.String()).
		Wrap(resource.ErrNotFound)
}

// Create inserts res.
func (r *ResourceRepository) Create(ctx context.Context, res *resource.Resource) error {
	t, err := table(res.Kind)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return oops.Code(errutil.CodeValidation).With("operation", "encode payload").Wrap(err)
	}

	_, err = store.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO `+t+` (`+resourceColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID.String(), res.OwnerID.String(), payload, res.ArtifactPath, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return oops.Code(errutil.CodeConflict).With("resource_id", res.ID.String()).Wrap(err)
		}
		return oops.Code(errutil.CodeInternal).
			With("operation", "insert resource").
			With("kind", string(res.Kind)).
			With("resource_id", res.ID.String()).
			Wrap(err)
	}
	return nil
}

// Get loads one resource.
func (r *ResourceRepository) Get(ctx context.Context, kind resource.Kind, id ulid.ULID) (*resource.Resource, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	row := store.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM `+t+` WHERE id = $1`, id.String())

	res, err := scanResource(row, kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).
			With("operation", "get resource").
			With("resource_id", id.String()).
			Wrap(err)
	}
	return res, nil
}

// GetMany loads the resources with ids in the order of ids.
func (r *ResourceRepository) GetMany(ctx context.Context, kind resource.Kind, ids []ulid.ULID) ([]*resource.Resource, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*resource.Resource{}, nil
	}

	rows, err := store.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+resourceColumns+` FROM `+t+` WHERE id = ANY($1)`, store.IDStrings(ids))
	if err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "list resources").Wrap(err)
	}
	defer rows.Close()

	byID := make(map[ulid.ULID]*resource.Resource, len(ids))
	for rows.Next() {
		res, err := scanResource(rows, kind)
		if err != nil {
			return nil, oops.Code(errutil.CodeInternal).With("operation", "scan resource").Wrap(err)
		}
		byID[res.ID] = res
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code(errutil.CodeInternal).With("operation", "iterate resources").Wrap(err)
	}

	out := make([]*resource.Resource, 0, len(byID))
	for _, id := range ids {
		if res, ok := byID[id]; ok {
			out = append(out, res)
		}
	}
	return out, nil
}

// Update replaces payload and updated_at.
func (r *ResourceRepository) Update(ctx context.Context, res *resource.Resource) error {
	t, err := table(res.Kind)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return oops.Code(errutil.CodeValidation).With("operation", "encode payload").Wrap(err)
	}

	tag, err := store.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE `+t+` SET payload = $2, updated_at = $3 WHERE id = $1`,
		res.ID.String(), payload, res.UpdatedAt,
	)
	if err != nil {
		return oops.Code(errutil.CodeInternal).
			With("operation", "update resource").
			With("resource_id", res.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(res.Kind, res.ID)
	}
	return nil
}

// Delete removes a resource. Zero affected rows means another caller got
// there first.
func (r *ResourceRepository) Delete(ctx context.Context, kind resource.Kind, id ulid.ULID) error {
	t, err := table(kind)
	if err != nil {
		return err
	}
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM `+t+` WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code(errutil.CodeInternal).
			With("operation", "delete resource").
			With("resource_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(kind, id)
	}
	return nil
}

func scanResource(row pgx.Row, kind resource.Kind) (*resource.Resource, error) {
	var (
		idStr, ownerStr string
		payload         []byte
		res             = resource.Resource{Kind: kind}
	)
	if err := row.Scan(&idStr, &ownerStr, &payload, &res.ArtifactPath, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if res.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.With("value", idStr).Wrap(err)
	}
	if res.OwnerID, err = ulid.Parse(ownerStr); err != nil {
		return nil, oops.With("value", ownerStr).Wrap(err)
	}
	res.Payload = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &res.Payload); err != nil {
			return nil, oops.With("operation", "decode payload").Wrap(err)
		}
	}
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	return &res, nil
}

var _ resource.Repository = (*ResourceRepository)(nil)
