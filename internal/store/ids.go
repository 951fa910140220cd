// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package store

import (
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// IDStrings converts ULIDs to their canonical text form for TEXT[] columns.
func IDStrings(ids []ulid.ULID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// ParseIDs parses TEXT[] column values back into ULIDs.
func ParseIDs(raw []string) ([]ulid.ULID, error) {
	out := make([]ulid.ULID, len(raw))
	for i, s := range raw {
		id, err := ulid.Parse(s)
		if err != nil {
			return nil, oops.Code(errutil.CodeInternal).With("value", s).Wrap(err)
		}
		out[i] = id
	}
	return out, nil
}
