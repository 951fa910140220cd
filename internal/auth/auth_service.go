// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fittrack/fittrack/pkg/errutil"
)

var tracer = otel.Tracer("fittrack/auth")

// Recorder receives authentication outcomes, typically for metrics.
type Recorder interface {
	RecordAuth(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuth(string, string) {}

// ServiceConfig holds dependencies for Service.
type ServiceConfig struct {
	Identities IdentityRepository
	Hasher     PasswordHasher
	Tokens     *TokenService
	Logger     *slog.Logger
	Recorder   Recorder
}

// Service provides signup, login, credential update and token authorization.
type Service struct {
	identities IdentityRepository
	hasher     PasswordHasher
	tokens     *TokenService
	logger     *slog.Logger
	recorder   Recorder

	// dummyHash is verified against when the email is unknown so that
	// response time does not reveal whether an account exists. It is
	// produced by hasher, so it carries the configured cost.
	dummyHash string
}

// AuthResult is returned by every operation that issues a token.
type AuthResult struct {
	IdentityID ulid.ULID
	Email      string
	Token      string
}

// NewAuthService creates a new Service.
func NewAuthService(cfg ServiceConfig) (*Service, error) {
	if cfg.Identities == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("identity repository is required")
	}
	if cfg.Hasher == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("password hasher is required")
	}
	if cfg.Tokens == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("token service is required")
	}

	s := &Service{
		identities: cfg.Identities,
		hasher:     cfg.Hasher,
		tokens:     cfg.Tokens,
		logger:     cfg.Logger,
		recorder:   cfg.Recorder,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}

	dummy, err := s.hasher.Hash(rand.Text())
	if err != nil {
		return nil, oops.With("operation", "hash login dummy").Wrap(err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Signup registers a new identity and returns a session token for it.
func (s *Service) Signup(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.signup")
	defer span.End()
	res, err := s.signup(ctx, email, password)
	s.finish(span, "signup", err)
	return res, err
}

func (s *Service) signup(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err = s.identities.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, oops.Code(errutil.CodeConflict).
			With("email", email).
			Wrap(ErrEmailTaken)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.With("operation", "check existing email").Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	identity, err := NewIdentity(email, hash)
	if err != nil {
		return nil, err
	}

	// A concurrent signup for the same email loses here on the unique constraint.
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, oops.With("operation", "create identity").Wrap(err)
	}

	s.logger.InfoContext(ctx, "identity registered", "identity_id", identity.ID.String())
	return s.issue(identity.ID, identity.Email)
}

// Login verifies credentials and returns a fresh session token.
// Wrong password and unknown email yield the same AUTH_INVALID_CREDENTIALS error.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer span.End()
	res, err := s.login(ctx, email, password)
	s.finish(span, "login", err)
	return res, err
}

func (s *Service) login(ctx context.Context, email, password string) (*AuthResult, error) {
	var identity *Identity
	normalized, normErr := NormalizeEmail(email)
	if normErr == nil {
		found, lookupErr := s.identities.GetByEmail(ctx, normalized)
		switch {
		case lookupErr == nil:
			identity = found
		case !errors.Is(lookupErr, ErrNotFound):
			return nil, oops.With("operation", "get identity by email").Wrap(lookupErr)
		}
	}

	targetHash := s.dummyHash
	if identity != nil {
		targetHash = identity.PasswordHash
	}

	// Always verify, even for unknown emails.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && identity != nil {
		return nil, oops.With("operation", "verify password").Wrap(verifyErr)
	}
	if identity == nil || !valid {
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(identity.PasswordHash) {
		s.upgradeHash(ctx, identity, password)
	}

	return s.issue(identity.ID, identity.Email)
}

// upgradeHash re-hashes with the current cost. Login succeeds regardless.
func (s *Service) upgradeHash(ctx context.Context, identity *Identity, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogWarn(s.logger, "password rehash failed", err, "identity_id", identity.ID.String())
		return
	}
	if err := s.identities.UpdateCredentials(ctx, identity.ID, identity.Email, newHash); err != nil {
		errutil.LogWarn(s.logger, "password rehash not persisted", err, "identity_id", identity.ID.String())
		return
	}
	s.logger.DebugContext(ctx, "password hash upgraded", "identity_id", identity.ID.String())
}

// UpdateCredentials replaces the email and password of an identity and
// returns a new token carrying the new email. Callers gate this with
// Authorize so an identity can only update itself.
func (s *Service) UpdateCredentials(ctx context.Context, identityID ulid.ULID, email, password string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.update_credentials")
	defer span.End()
	res, err := s.updateCredentials(ctx, identityID, email, password)
	s.finish(span, "update_credentials", err)
	return res, err
}

func (s *Service) updateCredentials(ctx context.Context, identityID ulid.ULID, email, password string) (*AuthResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	if _, err := s.identities.GetByID(ctx, identityID); err != nil {
		return nil, oops.With("operation", "get identity").With("identity_id", identityID.String()).Wrap(err)
	}

	holder, err := s.identities.GetByEmail(ctx, email)
	switch {
	case err == nil && holder.ID != identityID:
		return nil, oops.Code(errutil.CodeConflict).With("email", email).Wrap(ErrEmailTaken)
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, oops.With("operation", "check existing email").Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	if err := s.identities.UpdateCredentials(ctx, identityID, email, hash); err != nil {
		return nil, oops.With("operation", "update credentials").With("identity_id", identityID.String()).Wrap(err)
	}

	s.logger.InfoContext(ctx, "credentials updated", "identity_id", identityID.String())
	return s.issue(identityID, email)
}

// finish records the outcome of op. Spans carry only the error code so
// credentials never reach a trace backend.
func (s *Service) finish(span trace.Span, op string, err error) {
	o := outcome(err)
	s.recorder.RecordAuth(op, o)
	if err != nil {
		span.SetStatus(codes.Error, o)
	}
}

// AuthorizeRequest verifies a session token and returns its claims.
func (s *Service) AuthorizeRequest(token string) (*Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.recorder.RecordAuth("authorize", outcome(err))
		return nil, err
	}
	return claims, nil
}

// GetIdentity returns the identity with its password hash cleared.
// Reads are public.
func (s *Service) GetIdentity(ctx context.Context, id ulid.ULID) (*Identity, error) {
	identity, err := s.identities.GetByID(ctx, id)
	if err != nil {
		return nil, oops.With("operation", "get identity").Wrap(err)
	}
	out := identity.Clone()
	out.PasswordHash = ""
	return out, nil
}

func (s *Service) issue(id ulid.ULID, email string) (*AuthResult, error) {
	token, err := s.tokens.Issue(id, email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{IdentityID: id, Email: email, Token: token}, nil
}

func invalidCredentials() error {
	return oops.Code(errutil.CodeInvalidCredentials).Errorf("invalid email or password")
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "error"
}
