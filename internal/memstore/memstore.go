// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package memstore is an in-process backend for identities and resources.
//
// Transactions are serialized behind one mutex and work on a copy of the
// maps that is swapped in on commit, so an aborted transaction leaves no
// trace. Stored values are never mutated in place and never handed out;
// every read and write clones.
//
// A goroutine holding a transaction must pass the transaction context to
// every call. Calling with an unrelated context from inside fn deadlocks.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/internal/resource"
	"github.com/fittrack/fittrack/pkg/errutil"
)

type data struct {
	identities map[ulid.ULID]*auth.Identity
	emails     map[string]ulid.ULID
	resources  map[resource.Kind]map[ulid.ULID]*resource.Resource
}

func newData() *data {
	d := &data{
		identities: map[ulid.ULID]*auth.Identity{},
		emails:     map[string]ulid.ULID{},
		resources:  map[resource.Kind]map[ulid.ULID]*resource.Resource{},
	}
	for _, k := range resource.Kinds {
		d.resources[k] = map[ulid.ULID]*resource.Resource{}
	}
	return d
}

// copy is shallow: values are immutable once stored.
func (d *data) copy() *data {
	c := &data{
		identities: maps.Clone(d.identities),
		emails:     maps.Clone(d.emails),
		resources:  make(map[resource.Kind]map[ulid.ULID]*resource.Resource, len(d.resources)),
	}
	for k, m := range d.resources {
		c.resources[k] = maps.Clone(m)
	}
	return c
}

type txKey struct{}

type tx struct {
	data *data
}

// Store holds all state.
type Store struct {
	mu   sync.Mutex
	data *data
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: newData()}
}

// InTransaction runs fn with exclusive access to a private copy of the
// state and publishes it if fn succeeds and ctx is still live. Nested calls
// join the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{data: s.data.copy()}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return oops.Code(errutil.CodeTransactionFailed).With("operation", "commit").Wrap(err)
	}
	s.data = t.data
	return nil
}

// do runs fn against the transaction state in ctx, or under the lock.
func (s *Store) do(ctx context.Context, fn func(d *data) error) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(t.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// Identities returns the identity repository view.
func (s *Store) Identities() *IdentityRepository {
	return &IdentityRepository{store: s}
}

// Resources returns the resource repository view.
func (s *Store) Resources() *ResourceRepository {
	return &ResourceRepository{store: s}
}
