// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package auth

import (
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// Authorize allows a write only when requesterID is exactly ownerID.
// There is no role hierarchy or override. Reads never pass through here.
func Authorize(requesterID, ownerID ulid.ULID) error {
	if requesterID.IsZero() || requesterID != ownerID {
		return oops.Code(errutil.CodeForbidden).
			With("requester_id", requesterID.String()).
			With("owner_id", ownerID.String()).
			Errorf("requester does not own this resource")
	}
	return nil
}
