// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package api is the HTTP surface: routing, bearer-token gating, request
// decoding and mapping of error codes to statuses. Domain decisions live in
// the auth and resource services.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/internal/resource"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// AuthService is the credential side of the API.
type AuthService interface {
	Signup(ctx context.Context, email, password string) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	UpdateCredentials(ctx context.Context, identityID ulid.ULID, email, password string) (*auth.AuthResult, error)
	AuthorizeRequest(token string) (*auth.Claims, error)
	GetIdentity(ctx context.Context, id ulid.ULID) (*auth.Identity, error)
}

// ResourceService is the owned-resource side of the API.
type ResourceService interface {
	LinkedCreate(ctx context.Context, kind resource.Kind, ownerID ulid.ULID, payload map[string]any, artifactPath string) (*resource.Resource, error)
	LinkedDelete(ctx context.Context, kind resource.Kind, id, requesterID ulid.ULID) error
	LinkedUpdate(ctx context.Context, kind resource.Kind, id, requesterID ulid.ULID, payload map[string]any) (*resource.Resource, error)
	Get(ctx context.Context, kind resource.Kind, id ulid.ULID) (*resource.Resource, error)
	ListByOwner(ctx context.Context, kind resource.Kind, ownerID ulid.ULID) ([]*resource.Resource, error)
}

// ArtifactWriter persists an uploaded file and returns its path.
type ArtifactWriter interface {
	Write(ctx context.Context, ext string, r io.Reader) (string, error)
}

// RequestObserver receives one observation per served request.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Config holds HTTP settings.
type Config struct {
	// UploadDir is served read-only under /uploads/images/.
	UploadDir      string
	MaxUploadBytes int64
	CORSOrigins    []string
	// LoginRate is signup and login attempts per client per minute.
	LoginRate int
}

// Deps holds the collaborators of Server.
type Deps struct {
	Auth      AuthService
	Resources ResourceService
	Artifacts ArtifactWriter
	Logger    *slog.Logger
	Metrics   RequestObserver
}

// Server routes HTTP requests to the services.
type Server struct {
	cfg       Config
	auth      AuthService
	resources ResourceService
	artifacts ArtifactWriter
	logger    *slog.Logger
	metrics   RequestObserver
	limiter   *rateLimiter
	validate  *validator.Validate
}

// NewServer creates a Server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Auth == nil || deps.Resources == nil || deps.Artifacts == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("auth, resource and artifact services are required")
	}
	if cfg.LoginRate <= 0 {
		cfg.LoginRate = 10
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Server{
		cfg:       cfg,
		auth:      deps.Auth,
		resources: deps.Resources,
		artifacts: deps.Artifacts,
		logger:    logger,
		metrics:   deps.Metrics,
		limiter:   newRateLimiter(cfg.LoginRate),
		validate:  v,
	}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(otelhttp.NewMiddleware("fittrack.api"))
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, oops.Code(errutil.CodeNotFound).With("path", r.URL.Path).Errorf("could not find this route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, oops.Code(errutil.CodeNotFound).With("method", r.Method).Errorf("could not find this route"))
	})

	if s.cfg.UploadDir != "" {
		r.Get("/uploads/images/*", s.serveUploads())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.With(s.limitCredentials).Post("/signup", s.handleSignup)
			r.With(s.limitCredentials).Post("/login", s.handleLogin)
			r.Get("/{uid}", s.handleGetUser)
			r.With(s.requireAuth).Patch("/{uid}", s.handleUpdateUser)
		})
		r.Route("/{kind}", func(r chi.Router) {
			r.Get("/user/{uid}", s.handleListByOwner)
			r.Get("/{id}", s.handleGetResource)
			r.With(s.requireAuth).Post("/", s.handleCreateResource)
			r.With(s.requireAuth).Patch("/{id}", s.handleUpdateResource)
			r.With(s.requireAuth).Delete("/{id}", s.handleDeleteResource)
		})
	})
	return r
}

// serveUploads serves stored artifacts without directory listings.
func (s *Server) serveUploads() http.HandlerFunc {
	files := http.StripPrefix("/uploads/images/", http.FileServer(http.Dir(s.cfg.UploadDir)))
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "*")
		if name == "" || strings.HasSuffix(name, "/") || strings.HasPrefix(name, ".") {
			s.fail(w, r, oops.Code(errutil.CodeNotFound).Errorf("could not find this file"))
			return
		}
		files.ServeHTTP(w, r)
	}
}

// fail writes the error envelope and records err for the request log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if info := infoFrom(r.Context()); info != nil {
		info.err = err
	}
	if status >= http.StatusInternalServerError {
		errutil.LogError(s.logger, "request failed", err, "path", r.URL.Path)
	}
	writeJSON(w, status, body)
}

func errMissingToken() error {
	return oops.Code(errutil.CodeTokenMalformed).Errorf("missing bearer token")
}

func pathID(r *http.Request, param string) (ulid.ULID, error) {
	raw := chi.URLParam(r, param)
	id, err := ulid.Parse(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code(errutil.CodeValidation).
			With("param", param).
			Errorf("invalid %s %q", param, raw)
	}
	return id, nil
}

func pathKind(r *http.Request) (resource.Kind, error) {
	kind, err := resource.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		// An unknown first segment is an unknown route, not bad input.
		return "", oops.Code(errutil.CodeNotFound).With("kind", chi.URLParam(r, "kind")).Errorf("could not find this route")
	}
	return kind, nil
}

func (s *Server) requester(r *http.Request) ulid.ULID {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		return ulid.ULID{}
	}
	return claims.IdentityID
}
