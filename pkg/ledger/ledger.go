// Package ledger records the actual and baseline cost of every dispatched
// request. Records are written durably before they show up in the running
// totals; the totals can always be rebuilt from storage.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/lifecycle"
)

const (
	defaultRetryInterval = 5 * time.Second
	defaultMaxRetries    = 5
)

type pendingRecord struct {
	record   Record
	attempts int
}

// Ledger is the cost accumulator.
type Ledger struct {
	store    Storage
	routing  *config.RoutingConfig
	baseline string
	budget   float64

	retryInterval time.Duration
	maxRetries    int
	now           func() time.Time
	logger        *zap.Logger

	// writeMu orders storage writes against the totals: an insert and its
	// totals update, a rebuild's read and swap, and a retry batch each run
	// under it.
	writeMu sync.Mutex

	mu        sync.RWMutex
	total     Totals
	byBackend map[string]Totals

	pendMu  sync.Mutex
	pending []pendingRecord
	lost    int

	loopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRetryPolicy sets how often and how many times failed writes are retried.
func WithRetryPolicy(interval time.Duration, maxRetries int) Option {
	return func(l *Ledger) {
		if interval > 0 {
			l.retryInterval = interval
		}
		if maxRetries > 0 {
			l.maxRetries = maxRetries
		}
	}
}

// WithBudgetLimit sets the spend limit reported by Summary. Zero means none.
func WithBudgetLimit(limit float64) Option {
	return func(l *Ledger) {
		l.budget = limit
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the ledger's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a ledger over store, priced by the routing config's price
// table and baseline backend. Totals start empty; call Start or Rebuild to
// load existing records.
func New(store Storage, routing *config.RoutingConfig, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		routing:       routing,
		baseline:      routing.BaselineBackend,
		retryInterval: defaultRetryInterval,
		maxRetries:    defaultMaxRetries,
		now:           time.Now,
		logger:        zap.NewNop(),
		byBackend:     make(map[string]Totals),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open opens SQLite storage at cfg.Path and creates a ledger over it.
func Open(cfg config.LedgerConfig, routing *config.RoutingConfig, opts ...Option) (*Ledger, error) {
	store, err := OpenSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{
		WithRetryPolicy(cfg.RetryInterval, cfg.MaxRetries),
		WithBudgetLimit(cfg.BudgetLimit),
	}, opts...)
	return New(store, routing, opts...), nil
}

// Record prices a successful call and appends it.
func (l *Ledger) Record(ctx context.Context, backendID string, tokensIn, tokensOut int, category string) (Record, error) {
	actual := Cost(l.routing.Price(backendID), tokensIn, tokensOut)
	baseline := Cost(l.routing.Price(l.baseline), tokensIn, tokensOut)
	return l.append(ctx, Record{
		Backend:      backendID,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		ActualCost:   actual,
		BaselineCost: baseline,
		Savings:      baseline - actual,
		Category:     category,
		Success:      true,
	})
}

// RecordFailure appends a zero-cost record for a request whose every backend
// failed.
func (l *Ledger) RecordFailure(ctx context.Context, backendID, category string) (Record, error) {
	return l.append(ctx, Record{Backend: backendID, Category: category})
}

// append writes r durably and then adds it to the totals. A failed write is
// queued for retry and still counted; the returned error is only non-nil if
// the record is invalid.
func (l *Ledger) append(ctx context.Context, r Record) (Record, error) {
	if r.Backend == "" {
		return Record{}, fmt.Errorf("record requires a backend")
	}
	if r.TokensIn < 0 || r.TokensOut < 0 {
		return Record{}, fmt.Errorf("token counts must not be negative")
	}
	r.ID = uuid.NewString()
	r.Timestamp = l.now().UTC()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	// Writes that have begun finish even if the caller is cancelled.
	if err := l.store.Insert(context.WithoutCancel(ctx), r); err != nil {
		l.logger.Error("cost record write failed; buffering for retry",
			zap.String("id", r.ID),
			zap.String("backend", r.Backend),
			zap.Error(err))
		l.pendMu.Lock()
		l.pending = append(l.pending, pendingRecord{record: r})
		l.pendMu.Unlock()
	}

	l.mu.Lock()
	l.total.add(r)
	bt := l.byBackend[r.Backend]
	bt.add(r)
	l.byBackend[r.Backend] = bt
	l.mu.Unlock()

	return r, nil
}

// Totals returns the running totals across all backends.
func (l *Ledger) Totals() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// ByBackend returns the running totals for one backend.
func (l *Ledger) ByBackend(id string) Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byBackend[id]
}

// ByDateRange returns durable records with start <= timestamp <= end.
func (l *Ledger) ByDateRange(ctx context.Context, start, end time.Time) ([]Record, error) {
	records, err := l.store.ByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return records, nil
}

// PurgeOlderThan deletes records older than now-age and rebuilds the totals.
func (l *Ledger) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := l.now().Add(-age)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	n, err := l.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	l.pendMu.Lock()
	kept := l.pending[:0]
	for _, p := range l.pending {
		if !p.record.Timestamp.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	l.pending = kept
	l.pendMu.Unlock()

	if err := l.rebuild(ctx); err != nil {
		return n, err
	}
	l.logger.Info("purged cost records", zap.Int("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// RecordCount returns the number of durable records.
func (l *Ledger) RecordCount(ctx context.Context) (int, error) {
	n, err := l.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

// Rebuild recomputes the running totals from durable records plus any
// records still waiting to be written.
func (l *Ledger) Rebuild(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.rebuild(ctx)
}

func (l *Ledger) rebuild(ctx context.Context) error {
	records, err := l.store.All(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	l.pendMu.Lock()
	for _, p := range l.pending {
		records = append(records, p.record)
	}
	l.pendMu.Unlock()

	var total Totals
	byBackend := make(map[string]Totals)
	for _, r := range records {
		total.add(r)
		bt := byBackend[r.Backend]
		bt.add(r)
		byBackend[r.Backend] = bt
	}

	l.mu.Lock()
	l.total = total
	l.byBackend = byBackend
	l.mu.Unlock()
	return nil
}

// Pending returns the number of records waiting for a durable write.
func (l *Ledger) Pending() int {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	return len(l.pending)
}

// Lost returns how many records were dropped after exhausting retries.
func (l *Ledger) Lost() int {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	return l.lost
}

// retryPending tries every buffered record once. Records that have used up
// their retries are dropped from the totals.
func (l *Ledger) retryPending(ctx context.Context) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.pendMu.Lock()
	batch := l.pending
	l.pending = nil
	l.pendMu.Unlock()
	if len(batch) == 0 {
		return
	}

	var (
		keep    []pendingRecord
		dropped []Record
	)
	for _, p := range batch {
		err := l.store.Insert(ctx, p.record)
		if err == nil {
			l.logger.Info("buffered cost record written", zap.String("id", p.record.ID), zap.Int("attempts", p.attempts+1))
			continue
		}
		p.attempts++
		if p.attempts >= l.maxRetries {
			l.logger.Error("cost record lost after retries",
				zap.String("id", p.record.ID),
				zap.String("backend", p.record.Backend),
				zap.Float64("cost", p.record.ActualCost),
				zap.Int("attempts", p.attempts),
				zap.Error(err))
			dropped = append(dropped, p.record)
			continue
		}
		keep = append(keep, p)
	}

	l.pendMu.Lock()
	l.pending = append(keep, l.pending...)
	l.lost += len(dropped)
	l.pendMu.Unlock()

	if len(dropped) == 0 {
		return
	}
	l.mu.Lock()
	for _, r := range dropped {
		l.total.sub(r)
		bt := l.byBackend[r.Backend]
		bt.sub(r)
		l.byBackend[r.Backend] = bt
	}
	l.mu.Unlock()
}

// Start loads the totals from storage and starts the retry loop.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := l.Rebuild(ctx); err != nil {
		return err
	}

	l.loopMu.Lock()
	defer l.loopMu.Unlock()
	if l.stop != nil {
		return nil
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.retryLoop(l.stop, l.done)
	return nil
}

func (l *Ledger) retryLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.retryPending(context.Background())
		}
	}
}

// Stop ends the retry loop, makes a last write attempt for buffered records
// and closes storage.
func (l *Ledger) Stop() error {
	l.loopMu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.loopMu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	l.retryPending(context.Background())
	if n := l.Pending(); n > 0 {
		l.logger.Error("closing ledger with unwritten cost records", zap.Int("pending", n))
	}
	return l.store.Close()
}

// Health reports down when storage is unreachable and degraded while records
// are buffered.
func (l *Ledger) Health(ctx context.Context) lifecycle.Status {
	st := lifecycle.Status{
		Component: "ledger",
		State:     lifecycle.Healthy,
		Details:   map[string]string{"location": l.store.Location()},
		CheckedAt: l.now(),
	}
	if err := l.store.Ping(ctx); err != nil {
		st.State = lifecycle.Down
		st.Details["error"] = err.Error()
		return st
	}

	l.pendMu.Lock()
	pending, lost := len(l.pending), l.lost
	l.pendMu.Unlock()
	if pending > 0 {
		st.State = lifecycle.Degraded
	}
	st.Details["pending"] = strconv.Itoa(pending)
	st.Details["lost"] = strconv.Itoa(lost)
	return st
}

// BackendSummary is one row of the per-backend breakdown.
type BackendSummary struct {
	Backend  string  `json:"backend"`
	Requests int     `json:"requests"`
	Cost     float64 `json:"cost"`
	Tokens   int     `json:"tokens"`
}

// Summary is the cost report.
type Summary struct {
	TotalRequests     int              `json:"total_requests"`
	FailedRequests    int              `json:"failed_requests"`
	TotalCost         float64          `json:"total_cost"`
	TotalSavings      float64          `json:"total_savings"`
	BaselineCost      float64          `json:"baseline_cost"`
	SavingsPercentage float64          `json:"savings_percentage"`
	BaselineBackend   string           `json:"baseline_backend"`
	BudgetLimit       float64          `json:"budget_limit,omitempty"`
	OverBudget        bool             `json:"over_budget"`
	ByBackend         []BackendSummary `json:"by_backend"`
}

// Summary reports the running totals.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{
		TotalRequests:   l.total.Requests,
		FailedRequests:  l.total.Failed,
		TotalCost:       l.total.Cost,
		TotalSavings:    l.total.Savings,
		BaselineCost:    l.total.BaselineCost,
		BaselineBackend: l.baseline,
		BudgetLimit:     l.budget,
	}
	s.SavingsPercentage = savingsPercentage(l.total.Cost, l.total.BaselineCost)
	s.OverBudget = l.budget > 0 && l.total.Cost > l.budget

	for id, t := range l.byBackend {
		if t.Requests == 0 {
			continue
		}
		s.ByBackend = append(s.ByBackend, BackendSummary{
			Backend:  id,
			Requests: t.Requests,
			Cost:     t.Cost,
			Tokens:   t.Tokens(),
		})
	}
	sort.Slice(s.ByBackend, func(i, j int) bool {
		return s.ByBackend[i].Backend < s.ByBackend[j].Backend
	})
	return s
}

// SummarizeRecords builds a report from an explicit record set, for example
// the result of ByDateRange.
func SummarizeRecords(records []Record, baseline string, budget float64) Summary {
	var total Totals
	byBackend := make(map[string]Totals)
	for _, r := range records {
		total.add(r)
		bt := byBackend[r.Backend]
		bt.add(r)
		byBackend[r.Backend] = bt
	}
	s := Summary{
		TotalRequests:     total.Requests,
		FailedRequests:    total.Failed,
		TotalCost:         total.Cost,
		TotalSavings:      total.Savings,
		BaselineCost:      total.BaselineCost,
		SavingsPercentage: savingsPercentage(total.Cost, total.BaselineCost),
		BaselineBackend:   baseline,
		BudgetLimit:       budget,
		OverBudget:        budget > 0 && total.Cost > budget,
	}
	for id, t := range byBackend {
		s.ByBackend = append(s.ByBackend, BackendSummary{Backend: id, Requests: t.Requests, Cost: t.Cost, Tokens: t.Tokens()})
	}
	sort.Slice(s.ByBackend, func(i, j int) bool {
		return s.ByBackend[i].Backend < s.ByBackend[j].Backend
	})
	return s
}

func savingsPercentage(cost, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (1 - cost/baseline) * 100
}
