package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/pkg/logger"

	"github.com/google/uuid"
)

// Handler applies one claimed event. A returned error marks the attempt failed.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

type HandlerFunc func(ctx context.Context, e Event) error

func (f HandlerFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

type Options struct {
	// PendingGrace is how long a pending event may sit before a sweep
	// assumes its request died and picks it up.
	PendingGrace time.Duration
	// ProcessingTimeout is how long an attempt may run before a sweep
	// declares it failed.
	ProcessingTimeout time.Duration
	BatchSize         int
}

// Ingestor records every inbound event before acting on it and retries
// failed events up to MaxAttempts.
type Ingestor struct {
	repo    Repository
	handler Handler
	audit   *audit.Service
	opts    Options
	clock   func() time.Time
}

func NewIngestor(repo Repository, handler Handler, auditSvc *audit.Service, opts Options) *Ingestor {
	if opts.PendingGrace <= 0 {
		opts.PendingGrace = 2 * time.Minute
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Ingestor{repo: repo, handler: handler, audit: auditSvc, opts: opts, clock: time.Now}
}

// Receive stores the payload as pending and processes it inline. The
// returned event carries the outcome; a processing failure is not an error
// because the event is already durable and will be retried.
func (in *Ingestor) Receive(ctx context.Context, tenantID, source, eventType string, payload []byte) (Event, error) {
	if strings.TrimSpace(tenantID) == "" || source == "" {
		return Event{}, ErrInvalidArgument
	}
	if !json.Valid(payload) {
		return Event{}, fmt.Errorf("%w: payload is not JSON", ErrInvalidArgument)
	}

	now := in.clock().UTC()
	e := Event{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Source:    source,
		EventType: eventType,
		Payload:   json.RawMessage(payload),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.repo.Insert(ctx, e); err != nil {
		return Event{}, err
	}

	claimed, ok, err := in.repo.Claim(ctx, tenantID, e.ID, StatusPending, MaxAttempts, in.clock().UTC())
	if err != nil {
		// Durable as pending; the sweeper picks it up after the grace period.
		logger.From(ctx).Warn("webhook claim failed", "event_id", e.ID, "err", err)
		return e, nil
	}
	if !ok {
		return e, nil
	}
	return in.process(ctx, claimed), nil
}

// Sweep fails attempts that ran past the timeout and retries everything
// retryable, oldest first.
func (in *Ingestor) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := in.clock().UTC()

	stale, err := in.repo.FailStale(ctx, now.Add(-in.opts.ProcessingTimeout), now)
	if err != nil {
		return res, err
	}
	res.StaleFailed = len(stale)
	for _, e := range stale {
		if e.Exhausted() {
			res.Exhausted++
			in.giveUp(ctx, e, e.LastError)
		}
	}

	claimed, err := in.repo.ClaimRetryable(ctx, MaxAttempts, now.Add(-in.opts.PendingGrace), in.opts.BatchSize, now)
	if err != nil {
		return res, err
	}
	res.Claimed = len(claimed)
	for _, e := range claimed {
		if err := ctx.Err(); err != nil {
			// Claimed but unprocessed events time out into failed and retry.
			return res, err
		}
		out := in.process(ctx, e)
		switch {
		case out.Status == StatusCompleted:
			res.Completed++
		case out.Exhausted():
			res.Exhausted++
		default:
			res.Failed++
		}
	}
	return res, nil
}

// Retry re-runs one failed event on operator request. It counts as an
// attempt and is refused at the ceiling.
func (in *Ingestor) Retry(ctx context.Context, tenantID, id string) (Event, error) {
	e, err := in.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Event{}, err
	}
	if e.Exhausted() {
		return e, ErrRetryExhausted
	}
	if e.Status != StatusFailed {
		return e, ErrNotRetryable
	}
	claimed, ok, err := in.repo.Claim(ctx, tenantID, id, StatusFailed, MaxAttempts, in.clock().UTC())
	if err != nil {
		return Event{}, err
	}
	if !ok {
		// A sweeper claimed it in between.
		return e, ErrNotRetryable
	}
	return in.process(ctx, claimed), nil
}

// Status reports the tenant's queue counts and the events that gave up.
func (in *Ingestor) Status(ctx context.Context, tenantID string) (StatusReport, error) {
	if tenantID == "" {
		return StatusReport{}, ErrInvalidArgument
	}
	counts, err := in.repo.Counts(ctx, tenantID)
	if err != nil {
		return StatusReport{}, err
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	exhausted, err := in.repo.ListExhausted(ctx, tenantID, MaxAttempts, statusListLimit)
	if err != nil {
		return StatusReport{}, err
	}
	retryable, err := in.repo.ListRetryable(ctx, tenantID, MaxAttempts, statusListLimit)
	if err != nil {
		return StatusReport{}, err
	}
	if exhausted == nil {
		exhausted = []Event{}
	}
	if retryable == nil {
		retryable = []Event{}
	}
	return StatusReport{
		TenantID:    tenantID,
		Counts:      counts,
		Exhausted:   exhausted,
		Retryable:   retryable,
		MaxAttempts: MaxAttempts,
	}, nil
}

const statusListLimit = 50

func (in *Ingestor) process(ctx context.Context, e Event) Event {
	l := logger.From(ctx).With("event_id", e.ID, "tenant_id", e.TenantID, "event_type", e.EventType, "attempt", e.AttemptCount)

	herr := in.handle(ctx, e)
	now := in.clock().UTC()
	if herr == nil {
		if err := in.repo.Finish(ctx, e.ID, StatusCompleted, "", now); err != nil {
			l.Warn("webhook finish failed", "err", err)
		}
		e.Status, e.LastError, e.UpdatedAt = StatusCompleted, "", now
		return e
	}

	msg := herr.Error()
	if err := in.repo.Finish(ctx, e.ID, StatusFailed, msg, now); err != nil {
		l.Warn("webhook finish failed", "err", err)
	}
	e.Status, e.LastError, e.UpdatedAt = StatusFailed, msg, now

	if e.Exhausted() {
		in.giveUp(ctx, e, msg)
	} else {
		l.Warn("webhook attempt failed", "err", herr)
	}
	return e
}

// giveUp reports an event that reached the ceiling; it stays failed for operators.
func (in *Ingestor) giveUp(ctx context.Context, e Event, cause string) {
	logger.From(ctx).Error("webhook retries exhausted",
		"event_id", e.ID, "tenant_id", e.TenantID, "event_type", e.EventType, "attempt", e.AttemptCount, "err", cause)
	in.audit.Record(ctx, audit.Event{
		TenantID: e.TenantID,
		Type:     audit.EventWebhookRetryExhausted,
		Message:  fmt.Sprintf("event %s (%s) failed %d times: %s", e.ID, e.EventType, e.AttemptCount, cause),
	})
}

func (in *Ingestor) handle(ctx context.Context, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if in.handler == nil {
		return errors.New("webhook: no handler configured")
	}
	return in.handler.Handle(ctx, e)
}
