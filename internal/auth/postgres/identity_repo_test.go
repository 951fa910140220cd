// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package postgres_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/internal/auth/postgres"
	"github.com/fittrack/fittrack/internal/store"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// stringsArg matches a []string query argument exactly.
type stringsArg []string

func (a stringsArg) Match(v any) bool {
	got, ok := v.([]string)
	return ok && slices.Equal(got, a)
}

var identityCols = []string{
	"id", "email", "password_hash", "activity_ids", "profile_ids", "version", "created_at", "updated_at",
}

// anyArgs matches n generated or irrelevant statement arguments.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestIdentityRepository_Create(t *testing.T) {
	ctx := context.Background()
	identity, err := auth.NewIdentity("a@x.com", "hash")
	require.NoError(t, err)

	tests := []struct {
		name     string
		execErr  error
		wantCode string
	}{
		{name: "inserts identity"},
		{name: "duplicate email is conflict", execErr: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, wantCode: errutil.CodeConflict},
		{name: "other failure is internal", execErr: errors.New("connection reset"), wantCode: errutil.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			exp := mock.ExpectExec("INSERT INTO identities").
				WithArgs(identity.ID.String(), "a@x.com", "hash", stringsArg{}, stringsArg{},
					int64(1), identity.CreatedAt, identity.UpdatedAt)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			err := postgres.NewIdentityRepository(mock).Create(ctx, identity)
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("duplicate email wraps ErrEmailTaken", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("INSERT INTO identities").
			WithArgs(anyArgs(8)...).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
		err := postgres.NewIdentityRepository(mock).Create(ctx, identity)
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})
}

func TestIdentityRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	a1, a2, p1 := ulid.Make(), ulid.Make(), ulid.Make()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("scans reference lists in order", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("SELECT .+ FROM identities WHERE id = \\$1").
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(identityCols).AddRow(
				id.String(), "a@x.com", "hash",
				[]string{a1.String(), a2.String()}, []string{p1.String()},
				int64(3), now, now,
			))

		identity, err := postgres.NewIdentityRepository(mock).GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, identity.ID)
		assert.Equal(t, []ulid.ULID{a1, a2}, identity.ActivityIDs)
		assert.Equal(t, []ulid.ULID{p1}, identity.ProfileIDs)
		assert.Equal(t, int64(3), identity.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("SELECT .+ FROM identities WHERE id = \\$1").
			WithArgs(id.String()).
			WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewIdentityRepository(mock).GetByID(ctx, id)
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorContext(t, err, "identity_id", id.String())
	})

	t.Run("corrupt reference id is internal", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("SELECT .+ FROM identities WHERE id = \\$1").
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(identityCols).AddRow(
				id.String(), "a@x.com", "hash", []string{"garbage"}, []string{}, int64(1), now, now,
			))

		_, err := postgres.NewIdentityRepository(mock).GetByID(ctx, id)
		errutil.AssertErrorCode(t, err, errutil.CodeInternal)
	})

	t.Run("locks the row inside a transaction", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT .+ FROM identities WHERE id = \\$1 FOR NO KEY UPDATE").
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(identityCols).AddRow(
				id.String(), "a@x.com", "hash", []string{}, []string{}, int64(1), now, now,
			))
		mock.ExpectCommit()

		repo := postgres.NewIdentityRepository(mock)
		err := store.NewTransactor(mock).InTransaction(ctx, func(txCtx context.Context) error {
			_, err := repo.GetByID(txCtx, id)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIdentityRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	mock.ExpectQuery("SELECT .+ FROM identities WHERE email = \\$1").
		WithArgs("ghost@x.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := postgres.NewIdentityRepository(mock).GetByEmail(ctx, "ghost@x.com")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	errutil.AssertErrorContext(t, err, "email", "ghost@x.com")
}

func TestIdentityRepository_UpdateCredentials(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	t.Run("updates", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE identities SET email").
			WithArgs(id.String(), "b@x.com", "newhash", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, postgres.NewIdentityRepository(mock).UpdateCredentials(ctx, id, "b@x.com", "newhash"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row is not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE identities SET email").
			WithArgs(id.String(), "b@x.com", "newhash", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		err := postgres.NewIdentityRepository(mock).UpdateCredentials(ctx, id, "b@x.com", "newhash")
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})

	t.Run("taken email is conflict", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE identities SET email").
			WithArgs(id.String(), "b@x.com", "newhash", pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
		err := postgres.NewIdentityRepository(mock).UpdateCredentials(ctx, id, "b@x.com", "newhash")
		errutil.AssertErrorCode(t, err, errutil.CodeConflict)
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})
}

func TestIdentityRepository_SaveRefs(t *testing.T) {
	ctx := context.Background()

	newIdentity := func(t *testing.T) *auth.Identity {
		t.Helper()
		identity, err := auth.NewIdentity("a@x.com", "hash")
		require.NoError(t, err)
		identity.Version = 4
		return identity
	}

	t.Run("saves and bumps version", func(t *testing.T) {
		identity := newIdentity(t)
		ref := ulid.Make()
		identity.AppendRef(auth.RefActivities, ref)

		mock := newMock(t)
		mock.ExpectExec("UPDATE identities\\s+SET activity_ids").
			WithArgs(identity.ID.String(), stringsArg{ref.String()}, stringsArg{}, pgxmock.AnyArg(), int64(4)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, postgres.NewIdentityRepository(mock).SaveRefs(ctx, identity))
		assert.Equal(t, int64(5), identity.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		identity := newIdentity(t)
		mock := newMock(t)
		mock.ExpectExec("UPDATE identities\\s+SET activity_ids").
			WithArgs(identity.ID.String(), stringsArg{}, stringsArg{}, pgxmock.AnyArg(), int64(4)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(identity.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		err := postgres.NewIdentityRepository(mock).SaveRefs(ctx, identity)
		errutil.AssertErrorCode(t, err, errutil.CodeConflict)
		assert.ErrorIs(t, err, auth.ErrVersionConflict)
		assert.Equal(t, int64(4), identity.Version)
	})

	t.Run("vanished identity is not found", func(t *testing.T) {
		identity := newIdentity(t)
		mock := newMock(t)
		mock.ExpectExec("UPDATE identities\\s+SET activity_ids").
			WithArgs(identity.ID.String(), stringsArg{}, stringsArg{}, pgxmock.AnyArg(), int64(4)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(identity.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		err := postgres.NewIdentityRepository(mock).SaveRefs(ctx, identity)
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	})

	t.Run("joins the transaction in context", func(t *testing.T) {
		identity := newIdentity(t)
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE identities\\s+SET activity_ids").
			WithArgs(identity.ID.String(), stringsArg{}, stringsArg{}, pgxmock.AnyArg(), int64(4)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		repo := postgres.NewIdentityRepository(mock)
		err := store.NewTransactor(mock).InTransaction(ctx, func(txCtx context.Context) error {
			return repo.SaveRefs(txCtx, identity)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
