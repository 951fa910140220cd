// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package memstore

import (
	"context"
	"maps"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/resource"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// ResourceRepository implements resource.Repository in memory.
type ResourceRepository struct {
	store *Store
}

func notFound(kind resource.Kind, id ulid.ULID) error {
	return oops.Code(errutil.CodeNotFound).
		With("kind", string(kind)).
		With("resource_id", id.String()).
		Wrap(resource.ErrNotFound)
}

func collection(d *data, kind resource.Kind) (map[ulid.ULID]*resource.Resource, error) {
	m, ok := d.resources[kind]
	if !ok {
		return nil, kind.Validate()
	}
	return m, nil
}

// Create stores res.
func (r *ResourceRepository) Create(ctx context.Context, res *resource.Resource) error {
	return r.store.do(ctx, func(d *data) error {
		m, err := collection(d, res.Kind)
		if err != nil {
			return err
		}
		if _, exists := m[res.ID]; exists {
			return oops.Code(errutil.CodeConflict).
				With("resource_id", res.ID.String()).
				Errorf("resource already exists")
		}
		m[res.ID] = res.Clone()
		return nil
	})
}

// Get loads one resource.
func (r *ResourceRepository) Get(ctx context.Context, kind resource.Kind, id ulid.ULID) (*resource.Resource, error) {
	var out *resource.Resource
	err := r.store.do(ctx, func(d *data) error {
		m, err := collection(d, kind)
		if err != nil {
			return err
		}
		res, ok := m[id]
		if !ok {
			return notFound(kind, id)
		}
		out = res.Clone()
		return nil
	})
	return out, err
}

// GetMany loads resources in the order of ids, skipping missing ones.
func (r *ResourceRepository) GetMany(ctx context.Context, kind resource.Kind, ids []ulid.ULID) ([]*resource.Resource, error) {
	out := make([]*resource.Resource, 0, len(ids))
	err := r.store.do(ctx, func(d *data) error {
		m, err := collection(d, kind)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if res, ok := m[id]; ok {
				out = append(out, res.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces payload and updated_at.
func (r *ResourceRepository) Update(ctx context.Context, res *resource.Resource) error {
	return r.store.do(ctx, func(d *data) error {
		m, err := collection(d, res.Kind)
		if err != nil {
			return err
		}
		stored, ok := m[res.ID]
		if !ok {
			return notFound(res.Kind, res.ID)
		}
		updated := stored.Clone()
		updated.Payload = maps.Clone(res.Payload)
		updated.UpdatedAt = res.UpdatedAt
		m[res.ID] = updated
		return nil
	})
}

// Delete removes a resource.
func (r *ResourceRepository) Delete(ctx context.Context, kind resource.Kind, id ulid.ULID) error {
	return r.store.do(ctx, func(d *data) error {
		m, err := collection(d, kind)
		if err != nil {
			return err
		}
		if _, ok := m[id]; !ok {
			return notFound(kind, id)
		}
		delete(m, id)
		return nil
	})
}
