// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// loginRequest skips the length rules so a bad password is always 401.
type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type authResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// identityResponse is the public view of an identity. Reference lists are
// read through the {kind}/user/{uid} routes.
type identityResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func newAuthResponse(res *auth.AuthResult) authResponse {
	return authResponse{UserID: res.IdentityID.String(), Email: res.Email, Token: res.Token}
}

func newIdentityResponse(id *auth.Identity) identityResponse {
	return identityResponse{
		ID:        id.ID.String(),
		Email:     id.Email,
		CreatedAt: id.CreatedAt.UTC(),
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.auth.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created(w, newAuthResponse(res))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, newAuthResponse(res))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "uid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	identity, err := s.auth.GetIdentity(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, newIdentityResponse(identity))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "uid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := auth.Authorize(s.requester(r), id); err != nil {
		s.fail(w, r, err)
		return
	}

	var req credentialsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.auth.UpdateCredentials(r.Context(), id, req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created(w, newAuthResponse(res))
}

// decode reads one JSON object into dst and validates it when dst is a
// struct.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return oops.Code(errutil.CodeValidation).Errorf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return oops.Code(errutil.CodeValidation).Errorf("request body is empty")
		default:
			return oops.Code(errutil.CodeValidation).Wrapf(err, "malformed JSON body")
		}
	}
	if dec.More() {
		return oops.Code(errutil.CodeValidation).Errorf("request body must hold a single JSON object")
	}

	if _, isMap := dst.(*map[string]any); isMap {
		return nil
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError reports the first failing field by its JSON name.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return oops.Code(errutil.CodeValidation).Wrapf(err, "invalid request")
	}
	fe := fieldErrs[0]
	msg := fe.Field() + " is invalid"
	switch fe.Tag() {
	case "required":
		msg = fe.Field() + " is required"
	case "email":
		msg = fe.Field() + " must be an email address"
	case "min":
		msg = fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		msg = fe.Field() + " must be at most " + fe.Param() + " characters"
	}
	return oops.Code(errutil.CodeValidation).
		With("field", fe.Field()).
		With("rule", fe.Tag()).
		Errorf("%s", msg)
}
