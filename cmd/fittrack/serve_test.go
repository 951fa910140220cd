// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fittrack/fittrack/internal/config"
)

// syncBuffer guards a buffer written by the server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.UploadDir = t.TempDir()
	cfg.ShutdownTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestRunServe_InMemoryRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	logs := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cfg, nil, &serveDeps{
			LogWriter: logs,
			Ready:     func(a net.Addr) { addrs <- a },
		})
	}()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	resp, err := http.Post("http://"+addr.String()+"/api/v1/users/signup", "application/json",
		strings.NewReader(`{"email":"a@x.com","password":"secret1"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"token"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}

	out := logs.String()
	assert.Contains(t, out, "in-memory store")
	assert.Contains(t, out, "shutdown complete")
	assert.NotContains(t, out, cfg.JWTSecret)
	assert.NotContains(t, out, "secret1")
}

func TestRunServe_BackendFailure(t *testing.T) {
	cfg := testConfig(t)
	err := runServe(context.Background(), cfg, nil, &serveDeps{
		LogWriter: io.Discard,
		OpenBackend: func(context.Context, *config.Config, *slog.Logger) (*backend, error) {
			return nil, errors.New("connection refused")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunServe_ListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.HTTPAddr = busy.Addr().String()

	err = runServe(context.Background(), cfg, nil, &serveDeps{LogWriter: io.Discard})
	require.Error(t, err)
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errs := make(chan error, 1)
		errs <- errors.New("boom")

		monitorServerErrors(ctx, cancel, errs, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errs := make(chan error)
		close(errs)

		monitorServerErrors(ctx, cancel, errs, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
		assert.NoError(t, ctx.Err())
	})
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "migrate")
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestServeCmd_RejectsInvalidConfig(t *testing.T) {
	_, err := runCLI(t, "serve", "--http-addr", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt-secret")
}
