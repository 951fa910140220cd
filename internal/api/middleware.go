// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package api

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/fittrack/fittrack/internal/auth"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	requestInfoKey
)

// requestInfo is filled in by inner handlers and read by the request logger.
type requestInfo struct {
	identityID string
	err        error
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey).(*requestInfo)
	return info
}

// ClaimsFromContext returns the verified token claims of the request.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.status = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.status = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// logRequests logs each request once, at WARN for 4xx and ERROR for 5xx,
// and feeds the request metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

		elapsed := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attribute.String("http.route", route))

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rec.status,
			"duration_ms", float64(elapsed.Microseconds()) / 1000,
			"request_id", middleware.GetReqID(r.Context()),
		}
		if info.identityID != "" {
			attrs = append(attrs, "identity_id", info.identityID)
		}
		if info.err != nil {
			attrs = append(attrs, "error", info.err.Error())
		}

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request", attrs...)

		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, rec.status, elapsed)
		}
	})
}

// requireAuth rejects requests without a valid bearer token and stores the
// verified claims in the context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			s.fail(w, r, errMissingToken())
			return
		}

		claims, err := s.auth.AuthorizeRequest(strings.TrimSpace(token))
		if err != nil {
			s.fail(w, r, err)
			return
		}

		if info := infoFrom(r.Context()); info != nil {
			info.identityID = claims.IdentityID.String()
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles requests per client address.
type rateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		idle:    10 * time.Minute,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.idle {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > rl.idle {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) retryAfter() int {
	return max(1, int(math.Ceil(1/float64(rl.limit))))
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) limitCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !s.limiter.allow(key) {
			s.logger.WarnContext(r.Context(), "rate limit exceeded", "client", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(s.limiter.retryAfter()))
			writeJSON(w, http.StatusTooManyRequests, envelope{Error: &errorBody{
				Code:    CodeRateLimited,
				Message: "too many requests, retry later",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}
