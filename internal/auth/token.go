// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// DefaultTokenTTL is the lifetime of an issued session token.
const DefaultTokenTTL = time.Hour

// MinSecretLength is the shortest signing secret accepted.
const MinSecretLength = 32

// Claims is the verified content of a session token.
type Claims struct {
	IdentityID ulid.ULID
	Email      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// tokenClaims is the signed wire form.
type tokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 session tokens. It is safe for
// concurrent use; the secret is never mutated after construction.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTTL overrides DefaultTokenTTL.
func WithTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) { s.ttl = ttl }
}

// WithClock sets the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a TokenService signing with secret.
func NewTokenService(secret []byte, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code(errutil.CodeValidation).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}

	s := &TokenService{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		return nil, oops.Code(errutil.CodeValidation).With("ttl", s.ttl.String()).Errorf("token ttl must be positive")
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// Issue signs a token for the identity, expiring ttl after now.
func (s *TokenService) Issue(identityID ulid.ULID, email string) (string, error) {
	issued := s.now()
	claims := tokenClaims{
		UserID: identityID.String(),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID.String(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "sign token").Wrap(err)
	}
	return signed, nil
}

// Verify checks signature, structure and expiry. Failures carry
// AUTH_TOKEN_EXPIRED or AUTH_TOKEN_MALFORMED.
func (s *TokenService) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, oops.Code(errutil.CodeTokenMalformed).Errorf("token is empty")
	}

	var claims tokenClaims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(errutil.CodeTokenExpired).Errorf("token has expired")
		}
		return nil, oops.Code(errutil.CodeTokenMalformed).Wrap(err)
	}

	id, err := ulid.ParseStrict(claims.UserID)
	if err != nil {
		return nil, oops.Code(errutil.CodeTokenMalformed).With("field", "userId").Wrap(err)
	}
	if claims.Subject != claims.UserID {
		return nil, oops.Code(errutil.CodeTokenMalformed).Errorf("token subject does not match identity")
	}

	out := &Claims{IdentityID: id, Email: claims.Email}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
