// Package dispatch runs the request pipeline: classify, apply rules, check
// the cache, execute along the fallback chain, record cost, populate the
// cache and publish an event.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/cache"
	"github.com/zen-systems/routegate/pkg/events"
	"github.com/zen-systems/routegate/pkg/fallback"
	"github.com/zen-systems/routegate/pkg/ledger"
	"github.com/zen-systems/routegate/pkg/lifecycle"
	"github.com/zen-systems/routegate/pkg/router"
)

// Dispatcher composes the pipeline components. It is safe for concurrent use.
type Dispatcher struct {
	router   *router.Router
	executor *fallback.Executor
	ledger   *ledger.Ledger
	cache    *cache.Store
	notifier *events.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache enables response caching.
func WithCache(store *cache.Store) Option {
	return func(d *Dispatcher) {
		d.cache = store
	}
}

// WithNotifier sets the event notifier. A private one is created otherwise.
func WithNotifier(n *events.Notifier) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a dispatcher.
func New(r *router.Router, exec *fallback.Executor, l *ledger.Ledger, opts ...Option) (*Dispatcher, error) {
	if r == nil || exec == nil || l == nil {
		return nil, fmt.Errorf("dispatcher requires a router, an executor and a ledger")
	}
	d := &Dispatcher{
		router:   r,
		executor: exec,
		ledger:   l,
		notifier: events.NewNotifier(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Notifier returns the notifier events are published on.
func (d *Dispatcher) Notifier() *events.Notifier {
	return d.notifier
}

// Route returns the routing decision for req without executing it.
func (d *Dispatcher) Route(req Request) (*router.Decision, error) {
	return d.router.Route(routerInput(req))
}

// Handle runs req through the pipeline. The only errors returned are a
// *config.ConfigurationError for an invalid override, a
// *fallback.ExhaustedError when every backend failed, and the context error
// when ctx is cancelled during execution.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (*Result, error) {
	start := d.now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := d.logger.With(zap.String("request_id", req.ID))

	decision, err := d.router.Route(routerInput(req))
	if err != nil {
		d.publish(log, events.RequestFailed, map[string]any{
			"request_id": req.ID,
			"error":      err.Error(),
			"cancelled":  false,
		})
		return nil, err
	}
	log.Debug("routed",
		zap.String("category", decision.Category),
		zap.String("backend", decision.Backend),
		zap.String("rule", decision.Rule),
		zap.Strings("chain", decision.Chain))

	if res, ok := d.lookup(ctx, req, decision); ok {
		res.Duration = d.now().Sub(start)
		log.Debug("served from cache", zap.String("backend", res.Backend))
		d.publish(log, events.RequestCompleted, completedPayload(res))
		return res, nil
	}

	out, err := d.executor.Execute(ctx, decision.Chain, fallback.Request{Prompt: req.Prompt, Params: req.Params})
	if err != nil {
		return nil, d.fail(ctx, log, req, decision, err)
	}

	art := out.Artifact
	tokensIn, tokensOut := art.TokensIn, art.TokensOut
	if tokensIn == 0 && tokensOut == 0 && req.TokenHints != nil {
		tokensIn, tokensOut = req.TokenHints.In, req.TokenHints.Out
	}

	res := &Result{
		RequestID: req.ID,
		Artifact:  art,
		Decision:  decision,
		Backend:   out.Backend,
		Attempts:  out.Attempts,
	}

	rec, err := d.ledger.Record(ctx, out.Backend, tokensIn, tokensOut, decision.Category)
	if err != nil {
		log.Error("cost record rejected", zap.Error(err))
	} else {
		res.Cost = &rec
	}

	if d.cache != nil {
		d.cache.Put(context.WithoutCancel(ctx), cache.Key(out.Backend, req.Prompt, req.Params), art, req.CacheTTL)
	}

	res.Duration = d.now().Sub(start)
	d.publish(log, events.RequestCompleted, completedPayload(res))
	return res, nil
}

// lookup checks the cache for each chain member in order, so a result served
// earlier by a fallback backend can be reused.
func (d *Dispatcher) lookup(ctx context.Context, req Request, decision *router.Decision) (*Result, bool) {
	if d.cache == nil {
		return nil, false
	}
	for _, id := range decision.Chain {
		if ctx.Err() != nil {
			return nil, false
		}
		art, ok := d.cache.Get(ctx, cache.Key(id, req.Prompt, req.Params))
		if !ok {
			continue
		}
		return &Result{
			RequestID: req.ID,
			Artifact:  art,
			Decision:  decision,
			Backend:   id,
			CacheHit:  true,
		}, true
	}
	return nil, false
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, req Request, decision *router.Decision, err error) error {
	payload := map[string]any{
		"request_id": req.ID,
		"category":   decision.Category,
		"backend":    decision.Backend,
		"chain":      decision.Chain,
		"error":      err.Error(),
		"cancelled":  false,
	}

	var exhausted *fallback.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		payload["failures"] = exhausted.Failures
		if _, recErr := d.ledger.RecordFailure(ctx, decision.Backend, decision.Category); recErr != nil {
			log.Error("failure record rejected", zap.Error(recErr))
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		payload["cancelled"] = true
		log.Info("request cancelled", zap.Error(err))
	}

	d.publish(log, events.RequestFailed, payload)
	return err
}

func (d *Dispatcher) publish(log *zap.Logger, name string, payload map[string]any) {
	if err := d.notifier.Publish(name, payload); err != nil {
		log.Warn("event delivery failed", zap.String("event", name), zap.Error(err))
	}
}

func completedPayload(res *Result) map[string]any {
	p := map[string]any{
		"request_id":    res.RequestID,
		"category":      res.Decision.Category,
		"backend":       res.Backend,
		"routed":        res.Decision.Backend,
		"cache_hit":     res.CacheHit,
		"fallback_used": res.FallbackUsed(),
		"attempts":      len(res.Attempts),
		"duration":      res.Duration,
	}
	if res.Cost != nil {
		p["cost"] = res.Cost.ActualCost
		p["baseline_cost"] = res.Cost.BaselineCost
		p["savings"] = res.Cost.Savings
		p["tokens_in"] = res.Cost.TokensIn
		p["tokens_out"] = res.Cost.TokensOut
	}
	return p
}

func routerInput(req Request) router.Input {
	return router.Input{
		Prompt:          req.Prompt,
		Tags:            req.Tags,
		TaskOverride:    req.TaskOverride,
		BackendOverride: req.BackendOverride,
	}
}

// Start starts the ledger and the cache. An unreachable cache is logged and
// the dispatcher runs without it.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.ledger.Start(ctx); err != nil {
		return fmt.Errorf("starting ledger: %w", err)
	}
	if d.cache != nil {
		if err := d.cache.Start(ctx); err != nil {
			d.logger.Warn("cache unavailable; continuing without it", zap.Error(err))
		}
	}
	return nil
}

// Stop stops the cache and the ledger.
func (d *Dispatcher) Stop() error {
	var errs []error
	if d.cache != nil {
		if err := d.cache.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping cache: %w", err))
		}
	}
	if err := d.ledger.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping ledger: %w", err))
	}
	return errors.Join(errs...)
}

// Health aggregates component health. A down cache only degrades the
// dispatcher; a down ledger takes it down.
func (d *Dispatcher) Health(ctx context.Context) lifecycle.Status {
	ledgerStatus := d.ledger.Health(ctx)
	st := lifecycle.Status{
		Component: "dispatcher",
		Details:   map[string]string{"ledger": string(ledgerStatus.State)},
		CheckedAt: d.now(),
	}
	statuses := []lifecycle.Status{ledgerStatus}

	if d.cache != nil {
		cacheStatus := d.cache.Health(ctx)
		st.Details["cache"] = string(cacheStatus.State)
		if cacheStatus.State == lifecycle.Down {
			cacheStatus.State = lifecycle.Degraded
		}
		statuses = append(statuses, cacheStatus)
	} else {
		st.Details["cache"] = "disabled"
	}

	st.State = lifecycle.Worst(statuses...)
	return st
}
