// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package resource_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/internal/memstore"
	"github.com/fittrack/fittrack/internal/resource"
	"github.com/fittrack/fittrack/pkg/errutil"
)

type linkedCounts struct {
	mu        sync.Mutex
	linked    map[string]int
	conflicts int
}

func (c *linkedCounts) RecordLinked(kind, operation, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linked == nil {
		c.linked = map[string]int{}
	}
	c.linked[kind+"/"+operation+"/"+outcome]++
}

func (c *linkedCounts) RecordConflict(string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts++
}

func (c *linkedCounts) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linked[key]
}

func (c *linkedCounts) conflictCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflicts
}

// conflictingOwners fails the first n SaveRefs calls with a version conflict.
type conflictingOwners struct {
	resource.Owners
	remaining atomic.Int32
}

func (o *conflictingOwners) SaveRefs(ctx context.Context, identity *auth.Identity) error {
	if o.remaining.Add(-1) >= 0 {
		return oops.Code(errutil.CodeConflict).Wrap(auth.ErrVersionConflict)
	}
	return o.Owners.SaveRefs(ctx, identity)
}

// failingResources fails every Create.
type failingResources struct {
	resource.Repository
	err error
}

func (f failingResources) Create(context.Context, *resource.Resource) error { return f.err }

type fixture struct {
	store    *memstore.Store
	svc      *resource.Service
	cleaner  *resource.Cleaner
	remover  *fakeRemover
	recorder *linkedCounts
	owner    *auth.Identity
}

func newFixture(t *testing.T, configure ...func(*resource.ServiceConfig)) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		remover:  &fakeRemover{},
		recorder: &linkedCounts{},
	}

	var err error
	f.cleaner, err = resource.NewCleaner(resource.CleanerConfig{Artifacts: f.remover})
	require.NoError(t, err)

	f.owner, err = auth.NewIdentity("a@x.com", "hash")
	require.NoError(t, err)
	require.NoError(t, f.store.Identities().Create(context.Background(), f.owner))

	cfg := resource.ServiceConfig{
		Owners:     f.store.Identities(),
		Resources:  f.store.Resources(),
		Transactor: f.store,
		Cleaner:    f.cleaner,
		RetryBase:  time.Millisecond,
		Recorder:   f.recorder,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f.svc, err = resource.NewService(cfg)
	require.NoError(t, err)
	return f
}

func (f *fixture) refs(t *testing.T, kind resource.Kind) []ulid.ULID {
	t.Helper()
	owner, err := f.store.Identities().GetByID(context.Background(), f.owner.ID)
	require.NoError(t, err)
	return owner.Refs(kind.RefKind())
}

func (f *fixture) waitCleanups(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cleaner.Wait(context.Background()))
}

func TestNewService_RequiresDependencies(t *testing.T) {
	s := memstore.New()
	tests := []struct {
		name string
		cfg  resource.ServiceConfig
	}{
		{name: "owners", cfg: resource.ServiceConfig{Resources: s.Resources(), Transactor: s}},
		{name: "resources", cfg: resource.ServiceConfig{Owners: s.Identities(), Transactor: s}},
		{name: "transactor", cfg: resource.ServiceConfig{Owners: s.Identities(), Resources: s.Resources()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resource.NewService(tt.cfg)
			errutil.AssertErrorCode(t, err, errutil.CodeInternal)
		})
	}
}

func TestService_CreateThenDeleteRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{"title": "Run"}, "/img/1.png")
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, res.OwnerID)
	assert.Equal(t, []ulid.ULID{res.ID}, f.refs(t, resource.KindActivity))
	assert.Empty(t, f.refs(t, resource.KindProfile))

	stored, err := f.svc.Get(ctx, resource.KindActivity, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Run", stored.Payload["title"])
	assert.Equal(t, "/img/1.png", stored.ArtifactPath)

	require.NoError(t, f.svc.LinkedDelete(ctx, resource.KindActivity, res.ID, f.owner.ID))
	assert.Empty(t, f.refs(t, resource.KindActivity))

	_, err = f.svc.Get(ctx, resource.KindActivity, res.ID)
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	f.waitCleanups(t)
	assert.Equal(t, []string{"/img/1.png"}, f.remover.paths())
	assert.Equal(t, 1, f.recorder.get("activity/create/success"))
	assert.Equal(t, 1, f.recorder.get("activity/delete/success"))
}

func TestService_LinkedCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("profile goes to the profile list", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.LinkedCreate(ctx, resource.KindProfile, f.owner.ID, map[string]any{"weight": 70}, "")
		require.NoError(t, err)
		assert.Equal(t, []ulid.ULID{res.ID}, f.refs(t, resource.KindProfile))
		assert.Empty(t, f.refs(t, resource.KindActivity))
	})

	t.Run("unknown owner is not found and cleans the artifact", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.LinkedCreate(ctx, resource.KindActivity, ulid.Make(), map[string]any{}, "orphan.png")
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
		assert.ErrorIs(t, err, auth.ErrNotFound)

		f.waitCleanups(t)
		assert.Equal(t, []string{"orphan.png"}, f.remover.paths())
		assert.Equal(t, 1, f.recorder.get("activity/create/NOT_FOUND"))
	})

	t.Run("unknown kind is validation error", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.LinkedCreate(ctx, resource.Kind("meal"), f.owner.ID, nil, "x.png")
		errutil.AssertErrorCode(t, err, errutil.CodeValidation)
		f.waitCleanups(t)
		assert.Equal(t, []string{"x.png"}, f.remover.paths())
	})

	t.Run("oversized payload is validation error", func(t *testing.T) {
		f := newFixture(t)
		payload := map[string]any{}
		for i := range resource.MaxPayloadFields + 1 {
			payload[string(rune('a'+i%26))+ulid.Make().String()] = i
		}
		_, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, payload, "")
		errutil.AssertErrorCode(t, err, errutil.CodeValidation)
	})

	t.Run("caller payload is not aliased", func(t *testing.T) {
		f := newFixture(t)
		payload := map[string]any{"title": "Run"}
		res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, payload, "")
		require.NoError(t, err)

		payload["title"] = "Walk"
		stored, err := f.svc.Get(ctx, resource.KindActivity, res.ID)
		require.NoError(t, err)
		assert.Equal(t, "Run", stored.Payload["title"])
	})

	t.Run("retries a version conflict", func(t *testing.T) {
		var owners *conflictingOwners
		f := newFixture(t, func(cfg *resource.ServiceConfig) {
			owners = &conflictingOwners{Owners: cfg.Owners}
			owners.remaining.Store(2)
			cfg.Owners = owners
		})

		res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{}, "")
		require.NoError(t, err)
		assert.Equal(t, []ulid.ULID{res.ID}, f.refs(t, resource.KindActivity))
		assert.Equal(t, 2, f.recorder.conflictCount())
	})

	t.Run("exhausted retries abort with nothing visible", func(t *testing.T) {
		f := newFixture(t, func(cfg *resource.ServiceConfig) {
			owners := &conflictingOwners{Owners: cfg.Owners}
			owners.remaining.Store(100)
			cfg.Owners = owners
			cfg.MaxRetries = 2
		})

		_, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{}, "img.png")
		errutil.AssertErrorCode(t, err, errutil.CodeTransactionFailed)
		assert.ErrorIs(t, err, resource.ErrTransactionFailed)
		errutil.AssertErrorContext(t, err, "attempts", 3)
		assert.Equal(t, 3, f.recorder.conflictCount())

		assert.Empty(t, f.refs(t, resource.KindActivity))
		list, err := f.store.Resources().GetMany(ctx, resource.KindActivity, nil)
		require.NoError(t, err)
		assert.Empty(t, list)

		f.waitCleanups(t)
		assert.Equal(t, []string{"img.png"}, f.remover.paths())
		assert.Equal(t, 1, f.recorder.get("activity/create/TRANSACTION_FAILED"))
	})

	t.Run("store failure is not retried", func(t *testing.T) {
		f := newFixture(t, func(cfg *resource.ServiceConfig) {
			cfg.Resources = failingResources{
				Repository: cfg.Resources,
				err:        oops.Code(errutil.CodeInternal).Wrap(errors.New("disk full")),
			}
		})

		_, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{}, "")
		errutil.AssertErrorCode(t, err, errutil.CodeTransactionFailed)
		errutil.AssertErrorContext(t, err, "attempts", 1)
		assert.Zero(t, f.recorder.conflictCount())
		assert.Empty(t, f.refs(t, resource.KindActivity))
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		f := newFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.svc.LinkedCreate(cctx, resource.KindActivity, f.owner.ID, map[string]any{}, "")
		require.Error(t, err)
		assert.Empty(t, f.refs(t, resource.KindActivity))
	})
}

func TestService_ConcurrentCreatesLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 25
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		ids   = make([]ulid.ULID, n)
		errs  = make([]error, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{"n": i}, "")
			errs[i] = err
			if err == nil {
				ids[i] = res.ID
			}
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	refs := f.refs(t, resource.KindActivity)
	assert.Len(t, refs, n)
	assert.ElementsMatch(t, ids, refs)

	list, err := f.svc.ListByOwner(ctx, resource.KindActivity, f.owner.ID)
	require.NoError(t, err)
	assert.Len(t, list, n)
}

func TestService_LinkedDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("non-owner is forbidden and nothing changes", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{}, "a.png")
		require.NoError(t, err)

		err = f.svc.LinkedDelete(ctx, resource.KindActivity, res.ID, ulid.Make())
		errutil.AssertErrorCode(t, err, errutil.CodeForbidden)

		_, err = f.svc.Get(ctx, resource.KindActivity, res.ID)
		require.NoError(t, err)
		assert.Equal(t, []ulid.ULID{res.ID}, f.refs(t, resource.KindActivity))

		f.waitCleanups(t)
		assert.Empty(t, f.remover.paths())
	})

	t.Run("missing resource is not found", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.LinkedDelete(ctx, resource.KindActivity, ulid.Make(), f.owner.ID)
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
		assert.ErrorIs(t, err, resource.ErrNotFound)
	})

	t.Run("racing deletes succeed exactly once", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{}, "a.png")
		require.NoError(t, err)

		const n = 8
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, n)
		)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs[i] = f.svc.LinkedDelete(ctx, resource.KindActivity, res.ID, f.owner.ID)
			}()
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
		}
		assert.Equal(t, 1, succeeded)
		assert.Empty(t, f.refs(t, resource.KindActivity))

		f.waitCleanups(t)
		assert.Equal(t, []string{"a.png"}, f.remover.paths())
	})

	t.Run("failed transaction keeps the artifact", func(t *testing.T) {
		var owners *conflictingOwners
		f := newFixture(t, func(cfg *resource.ServiceConfig) {
			owners = &conflictingOwners{Owners: cfg.Owners}
			cfg.Owners = owners
			cfg.MaxRetries = 1
		})
		res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{}, "keep.png")
		require.NoError(t, err)

		owners.remaining.Store(100)
		err = f.svc.LinkedDelete(ctx, resource.KindActivity, res.ID, f.owner.ID)
		errutil.AssertErrorCode(t, err, errutil.CodeTransactionFailed)

		_, err = f.svc.Get(ctx, resource.KindActivity, res.ID)
		require.NoError(t, err)
		assert.Equal(t, []ulid.ULID{res.ID}, f.refs(t, resource.KindActivity))

		f.waitCleanups(t)
		assert.Empty(t, f.remover.paths())
	})
}

func TestService_LinkedUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("owner merges fields", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID,
			map[string]any{"title": "Run", "distance": 5}, "")
		require.NoError(t, err)

		updated, err := f.svc.LinkedUpdate(ctx, resource.KindActivity, res.ID, f.owner.ID,
			map[string]any{"title": "Long run"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"title": "Long run", "distance": 5}, updated.Payload)

		stored, err := f.svc.Get(ctx, resource.KindActivity, res.ID)
		require.NoError(t, err)
		assert.Equal(t, "Long run", stored.Payload["title"])
		assert.Equal(t, []ulid.ULID{res.ID}, f.refs(t, resource.KindActivity))
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{"title": "Run"}, "")
		require.NoError(t, err)

		_, err = f.svc.LinkedUpdate(ctx, resource.KindActivity, res.ID, ulid.Make(), map[string]any{"title": "x"})
		errutil.AssertErrorCode(t, err, errutil.CodeForbidden)

		stored, err := f.svc.Get(ctx, resource.KindActivity, res.ID)
		require.NoError(t, err)
		assert.Equal(t, "Run", stored.Payload["title"])
	})

	t.Run("empty payload is validation error", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.LinkedUpdate(ctx, resource.KindActivity, ulid.Make(), f.owner.ID, nil)
		errutil.AssertErrorCode(t, err, errutil.CodeValidation)
	})

	t.Run("missing resource is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.LinkedUpdate(ctx, resource.KindProfile, ulid.Make(), f.owner.ID, map[string]any{"a": 1})
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})
}

func TestService_ListByOwner(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown owner is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ListByOwner(ctx, resource.KindActivity, ulid.Make())
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})

	t.Run("owner without resources gets an empty list", func(t *testing.T) {
		f := newFixture(t)
		list, err := f.svc.ListByOwner(ctx, resource.KindProfile, f.owner.ID)
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	})

	t.Run("follows reference list order", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{"n": 1}, "")
		require.NoError(t, err)
		second, err := f.svc.LinkedCreate(ctx, resource.KindActivity, f.owner.ID, map[string]any{"n": 2}, "")
		require.NoError(t, err)

		list, err := f.svc.ListByOwner(ctx, resource.KindActivity, f.owner.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)
	})
}
