// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package api

import (
	"encoding/json"
	"net/http"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// CodeRateLimited is returned with 429 responses.
const CodeRateLimited = "RATE_LIMITED"

type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	errutil.CodeValidation:         http.StatusUnprocessableEntity,
	errutil.CodeNotFound:           http.StatusNotFound,
	errutil.CodeForbidden:          http.StatusForbidden,
	errutil.CodeConflict:           http.StatusConflict,
	errutil.CodeTokenExpired:       http.StatusUnauthorized,
	errutil.CodeTokenMalformed:     http.StatusUnauthorized,
	errutil.CodeInvalidCredentials: http.StatusUnauthorized,
	errutil.CodeTransactionFailed:  http.StatusInternalServerError,
	errutil.CodeStorage:            http.StatusInternalServerError,
	errutil.CodeInternal:           http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status. Uncoded errors are 500.
func StatusFor(err error) int {
	if status, ok := statusByCode[errutil.Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // nothing useful to do once the header is out
	json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

// errorResponse builds the public body for err. Server-side failures never
// expose their message.
func errorResponse(err error) (int, envelope) {
	status := StatusFor(err)
	code := errutil.Code(err)
	if code == "" {
		code = errutil.CodeInternal
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	return status, envelope{Error: &errorBody{Code: code, Message: msg}}
}
