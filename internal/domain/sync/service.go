package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/siteform/fieldsync/internal/api"
	"github.com/siteform/fieldsync/internal/domain/queue"
)

// RecordQueue is the queue surface the coordinator drains.
type RecordQueue interface {
	Pending(ctx context.Context) ([]queue.Record, error)
	MarkSynced(ctx context.Context, seq int64) error
	MarkFailed(ctx context.Context, seq int64, reason string) error
	Kind(name string) (queue.KindSpec, bool)
}

// Deliverer submits one record to the server. Implemented by api.Gateway.
type Deliverer interface {
	CreateRecord(ctx context.Context, path, recordID string, capturedAt time.Time, payload json.RawMessage) error
}

// Outcome classifies a completed sync pass.
type Outcome string

const (
	// OutcomeSuccess: every pending record was delivered.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: the pass finished but flagged some records as
	// terminally undeliverable.
	OutcomePartial Outcome = "partial"
	// OutcomeAborted: a transient failure stopped the pass; undelivered
	// records stay pending in order.
	OutcomeAborted Outcome = "aborted"
)

// PassResult summarizes one sync pass for the UI.
type PassResult struct {
	Outcome   Outcome
	Delivered int
	Flagged   int
	Remaining int
	Err       error
}

// Config tunes the coordinator.
type Config struct {
	// Interval between automatic passes.
	Interval time.Duration
	// CallTimeout bounds each delivery call. A timed-out delivery is
	// transient: the pass aborts and the record stays pending.
	CallTimeout time.Duration
	// BackoffBase and BackoffMax bound the exponential backoff applied to
	// automatic passes after consecutive transient failures.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Coordinator drains the offline queue through the gateway in strict
// sequence order. Passes never run concurrently; triggers arriving during a
// pass are coalesced into at most one follow-up pass.
type Coordinator struct {
	queue   RecordQueue
	gateway Deliverer
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	sem     chan struct{}
	trigger chan struct{}

	// failures is only touched while the pass semaphore is held.
	failures    int
	nextAttempt atomic.Int64

	onPass func(PassResult)
}

// NewCoordinator creates a sync coordinator.
func NewCoordinator(q RecordQueue, gateway Deliverer, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		queue:   q,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sem:     make(chan struct{}, 1),
		trigger: make(chan struct{}, 1),
	}
}

// OnPassCompleted registers a pass listener. Must be set before Run starts.
func (c *Coordinator) OnPassCompleted(fn func(PassResult)) {
	c.onPass = fn
}

// Notify requests a sync pass, typically on app foreground or a connectivity
// signal. Non-blocking; triggers arriving while a pass runs are coalesced.
func (c *Coordinator) Notify() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run drives automatic passes until the context is canceled: a periodic
// ticker plus external triggers. Triggered passes bypass the failure
// backoff; timer passes honor it.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.backingOff() {
				continue
			}
			c.RunPass(ctx)
		case <-c.trigger:
			c.RunPass(ctx)
		}
	}
}

// RunPass executes one sync pass. Concurrent callers serialize; a pass never
// interleaves with another.
func (c *Coordinator) RunPass(ctx context.Context) PassResult {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	res := c.drain(ctx)

	if res.Outcome == OutcomeAborted {
		c.failures++
		delay := c.backoffDelay()
		c.nextAttempt.Store(c.now().Add(delay).UnixNano())
		c.logger.Warn("sync pass aborted",
			"delivered", res.Delivered, "remaining", res.Remaining,
			"retry_in", delay, "error", res.Err)
	} else {
		c.failures = 0
		c.nextAttempt.Store(0)
		c.logger.Info("sync pass completed",
			"outcome", res.Outcome, "delivered", res.Delivered, "flagged", res.Flagged)
	}

	if c.onPass != nil {
		c.onPass(res)
	}
	return res
}

func (c *Coordinator) drain(ctx context.Context) PassResult {
	pending, err := c.queue.Pending(ctx)
	if err != nil {
		return PassResult{Outcome: OutcomeAborted, Err: err}
	}

	var res PassResult
	for i, rec := range pending {
		if err := c.deliver(ctx, rec, &res); err != nil {
			res.Outcome = OutcomeAborted
			res.Err = err
			res.Remaining = len(pending) - i
			return res
		}
	}

	if res.Flagged > 0 {
		res.Outcome = OutcomePartial
	} else {
		res.Outcome = OutcomeSuccess
	}
	return res
}

// deliver handles one record. A returned error aborts the pass; terminal
// per-record failures are flagged in res and delivery continues.
func (c *Coordinator) deliver(ctx context.Context, rec queue.Record, res *PassResult) error {
	spec, ok := c.queue.Kind(rec.Kind)
	if !ok {
		return c.flag(ctx, rec, res, "unknown record kind: "+rec.Kind)
	}

	if verr := spec.ValidatePayload(rec.Payload); verr != nil {
		return c.flag(ctx, rec, res, verr.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	err := c.gateway.CreateRecord(callCtx, spec.Endpoint(rec.SubjectID), rec.RecordID, rec.CapturedAt, rec.Payload)
	cancel()

	if err == nil {
		if err := c.queue.MarkSynced(ctx, rec.Seq); err != nil {
			return err
		}
		res.Delivered++
		return nil
	}

	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) && httpErr.Terminal() {
		return c.flag(ctx, rec, res, httpErr.Error())
	}

	// Transient, session expired, or local storage trouble: stop here so
	// later records are never delivered ahead of this one.
	return err
}

func (c *Coordinator) flag(ctx context.Context, rec queue.Record, res *PassResult, reason string) error {
	if err := c.queue.MarkFailed(ctx, rec.Seq, reason); err != nil {
		return err
	}
	res.Flagged++
	return nil
}

func (c *Coordinator) backingOff() bool {
	next := c.nextAttempt.Load()
	return next != 0 && c.now().UnixNano() < next
}

func (c *Coordinator) backoffDelay() time.Duration {
	delay := c.cfg.BackoffBase
	for i := 1; i < c.failures; i++ {
		delay *= 2
		if delay >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	if delay > c.cfg.BackoffMax {
		return c.cfg.BackoffMax
	}
	return delay
}
