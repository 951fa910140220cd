// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails t unless Code(err) is code. Plain errors have no
// code and always fail.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err, "want an error coded %s", code)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext fails t unless the oops context collected along err's
// chain maps key to value.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "%T carries no oops context", err)
	got, ok := oopsErr.Context()[key]
	require.Truef(t, ok, "context key %q missing from %v", key, oopsErr.Context())
	assert.Equal(t, value, got)
}
