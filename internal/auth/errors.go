// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested identity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when an email is already registered to another identity.
var ErrEmailTaken = errors.New("email already registered")

// ErrVersionConflict is returned by IdentityRepository.SaveRefs when the stored
// identity changed since it was loaded.
var ErrVersionConflict = errors.New("identity version conflict")
