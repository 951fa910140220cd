// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package resource

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/internal/store"
	"github.com/fittrack/fittrack/pkg/errutil"
)

var tracer = otel.Tracer("fittrack/resource")

// Retry defaults for conflicting linked transactions.
const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = 5 * time.Millisecond
)

// Linked operation names, used as log and metric labels.
const (
	OpCreate = "create"
	OpDelete = "delete"
	OpUpdate = "update"
)

// Recorder receives linked transaction outcomes.
type Recorder interface {
	RecordLinked(kind, operation, outcome string)
	RecordConflict(kind, operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLinked(string, string, string) {}
func (nopRecorder) RecordConflict(string, string)       {}

// ServiceConfig holds dependencies for Service.
type ServiceConfig struct {
	Owners     Owners
	Resources  Repository
	Transactor Transactor
	// Cleaner is optional. Without it artifacts are never removed.
	Cleaner *Cleaner
	// MaxRetries bounds re-runs of a linked transaction after a
	// concurrency conflict.
	MaxRetries uint64
	RetryBase  time.Duration
	Logger     *slog.Logger
	Recorder   Recorder
}

// Service keeps owned resources and their owners' reference lists
// consistent.
type Service struct {
	owners     Owners
	resources  Repository
	tx         Transactor
	cleaner    *Cleaner
	maxRetries uint64
	retryBase  time.Duration
	logger     *slog.Logger
	recorder   Recorder
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Owners == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("owner repository is required")
	}
	if cfg.Resources == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("resource repository is required")
	}
	if cfg.Transactor == nil {
		return nil, oops.Code(errutil.CodeInternal).Errorf("transactor is required")
	}

	s := &Service{
		owners:     cfg.Owners,
		resources:  cfg.Resources,
		tx:         cfg.Transactor,
		cleaner:    cfg.Cleaner,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		logger:     cfg.Logger,
		recorder:   cfg.Recorder,
	}
	if s.maxRetries == 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.retryBase <= 0 {
		s.retryBase = DefaultRetryBase
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s, nil
}

// LinkedCreate stores a new resource owned by ownerID and appends its id to
// the owner's reference list in one transaction. artifactPath names a file
// already written to storage; if the create fails for any reason the file is
// scheduled for removal.
func (s *Service) LinkedCreate(ctx context.Context, kind Kind, ownerID ulid.ULID, payload map[string]any, artifactPath string) (res *Resource, err error) {
	ctx, span := startSpan(ctx, kind, OpCreate)
	defer func() {
		s.recorder.RecordLinked(string(kind), OpCreate, outcome(err))
		if err != nil {
			s.scheduleCleanup(ctx, artifactPath, ReasonCreateFailed)
		}
		endSpan(span, err)
	}()

	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	if _, err := s.owners.GetByID(ctx, ownerID); err != nil {
		return nil, oops.With("operation", "load owner").With("owner_id", ownerID.String()).Wrap(err)
	}

	now := time.Now()
	res = &Resource{
		ID:           ulid.Make(),
		Kind:         kind,
		OwnerID:      ownerID,
		Payload:      maps.Clone(payload),
		ArtifactPath: artifactPath,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if res.Payload == nil {
		res.Payload = map[string]any{}
	}

	err = s.runLinked(ctx, kind, OpCreate, func(ctx context.Context) error {
		if err := s.resources.Create(ctx, res); err != nil {
			return err
		}
		// Reload on every attempt so a retry sees the winning writer's list.
		owner, err := s.owners.GetByID(ctx, ownerID)
		if err != nil {
			return err
		}
		owner.AppendRef(kind.RefKind(), res.ID)
		return s.owners.SaveRefs(ctx, owner)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "resource linked",
		"kind", string(kind), "resource_id", res.ID.String(), "owner_id", ownerID.String())
	return res.Clone(), nil
}

// LinkedDelete removes a resource owned by requesterID and drops it from the
// owner's reference list in one transaction. Of two racing deletes exactly
// one succeeds; the other gets NOT_FOUND. The artifact is removed in the
// background after commit.
func (s *Service) LinkedDelete(ctx context.Context, kind Kind, id, requesterID ulid.ULID) (err error) {
	ctx, span := startSpan(ctx, kind, OpDelete)
	defer func() {
		s.recorder.RecordLinked(string(kind), OpDelete, outcome(err))
		endSpan(span, err)
	}()

	if err := kind.Validate(); err != nil {
		return err
	}

	res, err := s.resources.Get(ctx, kind, id)
	if err != nil {
		return oops.With("operation", "load resource").Wrap(err)
	}
	if err := auth.Authorize(requesterID, res.OwnerID); err != nil {
		return err
	}
	artifactPath := res.ArtifactPath

	err = s.runLinked(ctx, kind, OpDelete, func(ctx context.Context) error {
		if err := s.resources.Delete(ctx, kind, id); err != nil {
			return err
		}
		owner, err := s.owners.GetByID(ctx, res.OwnerID)
		if err != nil {
			return err
		}
		owner.RemoveRef(kind.RefKind(), id)
		return s.owners.SaveRefs(ctx, owner)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "resource unlinked",
		"kind", string(kind), "resource_id", id.String(), "owner_id", res.OwnerID.String())
	s.scheduleCleanup(ctx, artifactPath, ReasonDeleted)
	return nil
}

// LinkedUpdate merges payload into a resource owned by requesterID.
// Reference lists are untouched so no linked transaction is needed.
func (s *Service) LinkedUpdate(ctx context.Context, kind Kind, id, requesterID ulid.ULID, payload map[string]any) (res *Resource, err error) {
	ctx, span := startSpan(ctx, kind, OpUpdate)
	defer func() {
		s.recorder.RecordLinked(string(kind), OpUpdate, outcome(err))
		endSpan(span, err)
	}()

	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, oops.Code(errutil.CodeValidation).Errorf("update payload cannot be empty")
	}

	res, err = s.resources.Get(ctx, kind, id)
	if err != nil {
		return nil, oops.With("operation", "load resource").Wrap(err)
	}
	if err := auth.Authorize(requesterID, res.OwnerID); err != nil {
		return nil, err
	}

	merged := maps.Clone(res.Payload)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, payload)
	if err := validatePayload(merged); err != nil {
		return nil, err
	}
	res.Payload = merged
	res.UpdatedAt = time.Now()

	if err := s.resources.Update(ctx, res); err != nil {
		return nil, oops.With("operation", "update resource").Wrap(err)
	}
	return res.Clone(), nil
}

// Get loads one resource. Reads are public.
func (s *Service) Get(ctx context.Context, kind Kind, id ulid.ULID) (*Resource, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	res, err := s.resources.Get(ctx, kind, id)
	if err != nil {
		return nil, oops.With("operation", "get resource").Wrap(err)
	}
	return res, nil
}

// ListByOwner returns the owner's resources of kind in reference-list order.
// Reads are public.
func (s *Service) ListByOwner(ctx context.Context, kind Kind, ownerID ulid.ULID) ([]*Resource, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	owner, err := s.owners.GetByID(ctx, ownerID)
	if err != nil {
		return nil, oops.With("operation", "load owner").With("owner_id", ownerID.String()).Wrap(err)
	}
	refs := owner.Refs(kind.RefKind())
	if len(refs) == 0 {
		return []*Resource{}, nil
	}
	list, err := s.resources.GetMany(ctx, kind, refs)
	if err != nil {
		return nil, oops.With("operation", "list resources").Wrap(err)
	}
	return list, nil
}

// runLinked runs fn in a transaction, re-running it a bounded number of times
// when it loses an optimistic or serialization conflict. NOT_FOUND, FORBIDDEN
// and VALIDATION_FAILED pass through; every other failure is reported as
// TRANSACTION_FAILED.
func (s *Service) runLinked(ctx context.Context, kind Kind, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(s.retryBase)))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := s.tx.InTransaction(ctx, fn)
		if err != nil && isConflict(err) {
			s.recorder.RecordConflict(string(kind), op)
			trace.SpanFromContext(ctx).AddEvent("linked transaction conflict",
				trace.WithAttributes(attribute.Int("attempt", attempts)))
			s.logger.DebugContext(ctx, "linked transaction conflict",
				"kind", string(kind), "operation", op, "attempt", attempts)
			return retry.RetryableError(err)
		}
		return err
	})
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("resource.attempts", attempts))
	if err == nil {
		return nil
	}

	switch errutil.Code(err) {
	case errutil.CodeNotFound, errutil.CodeForbidden, errutil.CodeValidation:
		return oops.With("operation", "linked "+op).With("kind", string(kind)).Wrap(err)
	}
	return oops.Code(errutil.CodeTransactionFailed).
		With("kind", string(kind)).
		With("attempts", attempts).
		Wrapf(ErrTransactionFailed, "linked %s aborted: %v", op, err)
}

func startSpan(ctx context.Context, kind Kind, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "resource.linked_"+op,
		trace.WithAttributes(attribute.String("resource.kind", string(kind))))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
	}
	span.End()
}

func (s *Service) scheduleCleanup(ctx context.Context, path, reason string) {
	if s.cleaner == nil || path == "" {
		return
	}
	s.cleaner.Schedule(ctx, path, reason)
}

func isConflict(err error) bool {
	return errors.Is(err, auth.ErrVersionConflict) || store.IsRetryable(err)
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
