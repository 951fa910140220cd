// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package errutil holds the error taxonomy shared by every layer and helpers
// for logging and asserting oops errors.
package errutil

import (
	"github.com/samber/oops"
)

// Taxonomy codes. Every error that leaves a service carries exactly one of
// these as its deepest oops code.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeTokenExpired       = "AUTH_TOKEN_EXPIRED"
	CodeTokenMalformed     = "AUTH_TOKEN_MALFORMED"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeTransactionFailed  = "TRANSACTION_FAILED"
	CodeStorage            = "STORAGE_FAILED"
	CodeInternal           = "INTERNAL"
)

// Code returns the oops code carried by err, or "" for plain errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// IsAuthError reports whether err is a token verification failure.
func IsAuthError(err error) bool {
	switch Code(err) {
	case CodeTokenExpired, CodeTokenMalformed:
		return true
	}
	return false
}
