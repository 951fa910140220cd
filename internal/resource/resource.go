// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package resource implements owner-scoped records (activities and profiles)
// and the linked transactions that keep them consistent with their owner's
// reference lists.
package resource

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// Kind selects which resource collection and owner reference list an
// operation targets.
type Kind string

// Resource kinds.
const (
	KindActivity Kind = "activity"
	KindProfile  Kind = "profile"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{KindActivity, KindProfile}

// MaxPayloadFields bounds the number of top-level payload keys.
const MaxPayloadFields = 64

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

// ErrTransactionFailed is wrapped by every linked operation that aborted.
var ErrTransactionFailed = errors.New("transaction failed")

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate rejects unknown kinds.
func (k Kind) Validate() error {
	switch k {
	case KindActivity, KindProfile:
		return nil
	}
	return oops.Code(errutil.CodeValidation).With("kind", string(k)).Errorf("unknown resource kind %q", string(k))
}

// RefKind maps the resource kind to the owner reference list holding it.
func (k Kind) RefKind() auth.RefKind {
	if k == KindProfile {
		return auth.RefProfiles
	}
	return auth.RefActivities
}

// Resource is an owned record. Payload is opaque to this package.
type Resource struct {
	ID           ulid.ULID
	Kind         Kind
	OwnerID      ulid.ULID
	Payload      map[string]any
	ArtifactPath string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone copies the resource and its top-level payload map.
func (r *Resource) Clone() *Resource {
	c := *r
	c.Payload = maps.Clone(r.Payload)
	return &c
}

func validatePayload(payload map[string]any) error {
	if len(payload) > MaxPayloadFields {
		return oops.Code(errutil.CodeValidation).
			With("fields", len(payload)).
			Errorf("payload has more than %d fields", MaxPayloadFields)
	}
	for key := range payload {
		if key == "" {
			return oops.Code(errutil.CodeValidation).Errorf("payload field names cannot be empty")
		}
	}
	return nil
}

// Repository persists resources. Implementations join the transaction
// carried by ctx when called from inside Transactor.InTransaction.
type Repository interface {
	// Create inserts res.
	Create(ctx context.Context, res *Resource) error

	// Get loads one resource. Returns an error wrapping ErrNotFound if absent.
	Get(ctx context.Context, kind Kind, id ulid.ULID) (*Resource, error)

	// GetMany loads the resources with the given ids, in the order of ids.
	// Ids with no stored resource are skipped.
	GetMany(ctx context.Context, kind Kind, ids []ulid.ULID) ([]*Resource, error)

	// Update replaces payload and updated_at.
	// Returns an error wrapping ErrNotFound if the resource is gone.
	Update(ctx context.Context, res *Resource) error

	// Delete removes a resource. Returns an error wrapping ErrNotFound if no
	// row was removed, so of two racing deletes exactly one succeeds.
	Delete(ctx context.Context, kind Kind, id ulid.ULID) error
}

// Owners is the part of the credential store linked transactions need.
type Owners interface {
	GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error)
	SaveRefs(ctx context.Context, identity *auth.Identity) error
}

// Transactor runs fn atomically. Every repository call made with the ctx
// passed to fn belongs to the same transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
