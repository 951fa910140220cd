// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// DefaultCleanupTimeout bounds a single artifact removal.
const DefaultCleanupTimeout = 10 * time.Second

// Cleanup reasons, used as log and metric labels.
const (
	ReasonCreateFailed = "create_failed"
	ReasonDeleted      = "deleted"
)

// ArtifactRemover deletes a stored artifact by path.
type ArtifactRemover interface {
	Remove(ctx context.Context, path string) error
}

// CleanupRecorder receives cleanup outcomes.
type CleanupRecorder interface {
	RecordCleanup(reason, outcome string)
}

// CleanerConfig configures a Cleaner.
type CleanerConfig struct {
	Artifacts ArtifactRemover
	Timeout   time.Duration
	Logger    *slog.Logger
	Recorder  CleanupRecorder
}

// Cleaner removes orphaned artifacts on a best-effort basis. A failed removal
// is logged and counted, never returned and never retried; the file then
// stays orphaned.
type Cleaner struct {
	artifacts ArtifactRemover
	timeout   time.Duration
	logger    *slog.Logger
	recorder  CleanupRecorder
	wg        sync.WaitGroup
}

// NewCleaner creates a Cleaner.
func NewCleaner(cfg CleanerConfig) (*Cleaner, error) {
	if cfg.Artifacts == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("artifact remover is required")
	}
	c := &Cleaner{
		artifacts: cfg.Artifacts,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultCleanupTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Cleanup removes path now. It never fails from the caller's point of view.
func (c *Cleaner) Cleanup(ctx context.Context, path, reason string) {
	if path == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome := "removed"
	if err := c.artifacts.Remove(ctx, path); err != nil {
		outcome = "failed"
		errutil.LogWarn(c.logger, "orphan cleanup failed", err, "path", path, "reason", reason)
	} else {
		c.logger.DebugContext(ctx, "orphan artifact removed", "path", path, "reason", reason)
	}
	if c.recorder != nil {
		c.recorder.RecordCleanup(reason, outcome)
	}
}

// Schedule runs Cleanup in the background, detached from the request
// context so a finished request does not cancel it.
func (c *Cleaner) Schedule(ctx context.Context, path, reason string) {
	if path == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Cleanup(context.WithoutCancel(ctx), path, reason)
	}()
}

// Wait blocks until every scheduled cleanup finished or ctx is done.
func (c *Cleaner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.With("operation", "wait for cleanups").Wrap(ctx.Err())
	}
}
