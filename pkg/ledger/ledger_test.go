package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/lifecycle"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func openTestLedger(t *testing.T, path string, clock *fakeClock, opts ...Option) *Ledger {
	t.Helper()
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	l := New(store, config.DefaultRoutingConfig(), opts...)
	require.NoError(t, l.Start(context.Background()))
	return l
}

func TestRecord_Pricing(t *testing.T) {
	clock := &fakeClock{t: epoch}
	l := openTestLedger(t, filepath.Join(t.TempDir(), "costs.db"), clock)
	t.Cleanup(func() { _ = l.Stop() })

	rec, err := l.Record(context.Background(), "claude-sonnet", 1000, 500, "code_review")
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.True(t, rec.Success)
	assert.Equal(t, epoch, rec.Timestamp)
	assert.InDelta(t, 0.0105, rec.ActualCost, 1e-12)
	assert.InDelta(t, 0.0525, rec.BaselineCost, 1e-12)
	assert.Equal(t, rec.BaselineCost-rec.ActualCost, rec.Savings)

	free, err := l.Record(context.Background(), "local-llama", 1000, 1000, "general")
	require.NoError(t, err)
	assert.Zero(t, free.ActualCost)
	assert.Equal(t, free.BaselineCost, free.Savings)
}

func TestRecord_NegativeSavings(t *testing.T) {
	clock := &fakeClock{t: epoch}
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "costs.db"))
	require.NoError(t, err)

	routing := config.DefaultRoutingConfig()
	routing.BaselineBackend = "gpt-4o-mini"
	l := New(store, routing, WithClock(clock.Now))
	t.Cleanup(func() { _ = l.Stop() })

	rec, err := l.Record(context.Background(), "claude-opus", 100, 100, "")
	require.NoError(t, err)
	assert.Less(t, rec.Savings, 0.0)
	assert.Equal(t, rec.BaselineCost-rec.ActualCost, rec.Savings)
}

func TestRecord_Rejects(t *testing.T) {
	clock := &fakeClock{t: epoch}
	l := openTestLedger(t, filepath.Join(t.TempDir(), "costs.db"), clock)
	t.Cleanup(func() { _ = l.Stop() })

	_, err := l.Record(context.Background(), "", 1, 1, "")
	assert.Error(t, err)
	_, err = l.Record(context.Background(), "local-llama", -1, 1, "")
	assert.Error(t, err)
}

func TestTotals_MatchDurableRecords(t *testing.T) {
	clock := &fakeClock{t: epoch}
	l := openTestLedger(t, filepath.Join(t.TempDir(), "costs.db"), clock)
	t.Cleanup(func() { _ = l.Stop() })
	ctx := context.Background()

	var wantCost, wantSavings float64
	for i, backend := range []string{"claude-sonnet", "gpt-4o", "claude-sonnet", "local-coder"} {
		rec, err := l.Record(ctx, backend, 100*(i+1), 50*(i+1), "")
		require.NoError(t, err)
		wantCost += rec.ActualCost
		wantSavings += rec.Savings
	}
	_, err := l.RecordFailure(ctx, "local-llama", "general")
	require.NoError(t, err)

	totals := l.Totals()
	assert.Equal(t, 5, totals.Requests)
	assert.Equal(t, 1, totals.Failed)
	assert.InDelta(t, wantCost, totals.Cost, 1e-12)
	assert.InDelta(t, wantSavings, totals.Savings, 1e-12)

	sonnet := l.ByBackend("claude-sonnet")
	assert.Equal(t, 2, sonnet.Requests)
	assert.Equal(t, 100+300, sonnet.TokensIn)

	records, err := l.ByDateRange(ctx, epoch.Add(-time.Hour), epoch.Add(time.Hour))
	require.NoError(t, err)
	var durableCost float64
	for _, r := range records {
		durableCost += r.ActualCost
	}
	assert.Len(t, records, 5)
	assert.InDelta(t, durableCost, totals.Cost, 1e-12)
}

func TestPurgeOlderThan(t *testing.T) {
	clock := &fakeClock{}
	l := openTestLedger(t, filepath.Join(t.TempDir(), "costs.db"), clock)
	t.Cleanup(func() { _ = l.Stop() })
	ctx := context.Background()

	clock.Set(epoch.Add(-100 * 24 * time.Hour))
	_, err := l.Record(ctx, "claude-sonnet", 1000, 1000, "")
	require.NoError(t, err)
	clock.Set(epoch.Add(-91 * 24 * time.Hour))
	_, err = l.Record(ctx, "gpt-4o", 1000, 1000, "")
	require.NoError(t, err)
	clock.Set(epoch.Add(-10 * 24 * time.Hour))
	kept, err := l.Record(ctx, "gpt-4o-mini", 1000, 1000, "")
	require.NoError(t, err)

	clock.Set(epoch)
	before, err := l.RecordCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, before)

	n, err := l.PurgeOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	after, err := l.RecordCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-n, after)

	totals := l.Totals()
	assert.Equal(t, 1, totals.Requests)
	assert.InDelta(t, kept.ActualCost, totals.Cost, 1e-12)
	assert.Zero(t, l.ByBackend("claude-sonnet").Requests)
}

func TestRebuildAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs.db")
	clock := &fakeClock{t: epoch}
	ctx := context.Background()

	first := openTestLedger(t, path, clock)
	_, err := first.Record(ctx, "claude-sonnet", 1000, 1000, "")
	require.NoError(t, err)
	_, err = first.Record(ctx, "gpt-4o", 2000, 500, "")
	require.NoError(t, err)
	want := first.Totals()
	require.NoError(t, first.Stop())

	second := openTestLedger(t, path, clock)
	t.Cleanup(func() { _ = second.Stop() })
	got := second.Totals()
	assert.Equal(t, want.Requests, got.Requests)
	assert.InDelta(t, want.Cost, got.Cost, 1e-12)
	assert.InDelta(t, want.Savings, got.Savings, 1e-12)
}

func TestRecord_CompletesWhenCancelled(t *testing.T) {
	clock := &fakeClock{t: epoch}
	l := openTestLedger(t, filepath.Join(t.TempDir(), "costs.db"), clock)
	t.Cleanup(func() { _ = l.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Record(ctx, "claude-sonnet", 10, 10, "")
	require.NoError(t, err)

	n, err := l.RecordCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, l.Pending())
}

func TestStorageFailure_BufferedThenWritten(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := New(newSQLiteStorage(db, "mock.db"), config.DefaultRoutingConfig(), WithClock((&fakeClock{t: epoch}).Now))
	ctx := context.Background()

	mock.ExpectExec("INSERT OR IGNORE INTO cost_records").WillReturnError(errors.New("database is locked"))
	rec, err := l.Record(ctx, "claude-sonnet", 1000, 1000, "")
	require.NoError(t, err)

	assert.Equal(t, 1, l.Pending())
	assert.InDelta(t, rec.ActualCost, l.Totals().Cost, 1e-12, "buffered records stay visible")
	assert.Equal(t, lifecycle.Degraded, l.Health(ctx).State)

	mock.ExpectExec("INSERT OR IGNORE INTO cost_records").WillReturnResult(sqlmock.NewResult(1, 1))
	l.retryPending(ctx)

	assert.Zero(t, l.Pending())
	assert.Zero(t, l.Lost())
	assert.InDelta(t, rec.ActualCost, l.Totals().Cost, 1e-12)
	assert.Equal(t, lifecycle.Healthy, l.Health(ctx).State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorageFailure_LostAfterRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := New(newSQLiteStorage(db, "mock.db"), config.DefaultRoutingConfig(),
		WithClock((&fakeClock{t: epoch}).Now),
		WithRetryPolicy(time.Minute, 2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT OR IGNORE INTO cost_records").WillReturnError(errors.New("disk full"))
	}
	_, err = l.Record(ctx, "claude-opus", 1000, 1000, "")
	require.NoError(t, err)

	l.retryPending(ctx)
	assert.Equal(t, 1, l.Pending())
	l.retryPending(ctx)

	assert.Zero(t, l.Pending())
	assert.Equal(t, 1, l.Lost())
	assert.Zero(t, l.Totals().Requests)
	assert.Zero(t, l.Totals().Cost)
	assert.Zero(t, l.ByBackend("claude-opus").Requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummary(t *testing.T) {
	clock := &fakeClock{t: epoch}
	l := openTestLedger(t, filepath.Join(t.TempDir(), "costs.db"), clock, WithBudgetLimit(0.01))
	t.Cleanup(func() { _ = l.Stop() })
	ctx := context.Background()

	_, err := l.Record(ctx, "claude-sonnet", 1000, 1000, "")
	require.NoError(t, err)
	_, err = l.Record(ctx, "local-llama", 1000, 1000, "")
	require.NoError(t, err)

	s := l.Summary()
	assert.Equal(t, 2, s.TotalRequests)
	assert.True(t, s.OverBudget)
	assert.Equal(t, "claude-opus", s.BaselineBackend)
	// sonnet 0.018, baseline 2 * 0.09
	assert.InDelta(t, 90.0, s.SavingsPercentage, 1e-9)
	require.Len(t, s.ByBackend, 2)
	assert.Equal(t, "claude-sonnet", s.ByBackend[0].Backend)
	assert.Equal(t, 2000, s.ByBackend[0].Tokens)

	out := FormatSummary(s)
	assert.Contains(t, out, "Total requests:  2")
	assert.Contains(t, out, "Savings:         90.0%")
	assert.Contains(t, out, "** OVER BUDGET **")
	assert.Contains(t, out, "local-llama: 1 reqs")
}

func TestSummarizeRecords(t *testing.T) {
	records := []Record{
		{Backend: "a", TokensIn: 1, TokensOut: 2, ActualCost: 1, BaselineCost: 4, Savings: 3, Success: true},
		{Backend: "b", ActualCost: 0, BaselineCost: 0, Success: false},
	}
	s := SummarizeRecords(records, "opus", 0)
	assert.Equal(t, 2, s.TotalRequests)
	assert.Equal(t, 1, s.FailedRequests)
	assert.InDelta(t, 75.0, s.SavingsPercentage, 1e-9)
	assert.False(t, s.OverBudget)
}

// gatedStorage is an in-memory Storage whose Insert can fail on demand and
// can be held open after the row is stored.
type gatedStorage struct {
	mu      sync.Mutex
	records []Record
	failing bool

	inserted chan struct{}
	release  chan struct{}
}

func newGatedStorage() *gatedStorage {
	return &gatedStorage{inserted: make(chan struct{}, 8)}
}

func (s *gatedStorage) hold() {
	s.mu.Lock()
	s.release = make(chan struct{})
	s.mu.Unlock()
}

func (s *gatedStorage) Insert(_ context.Context, r Record) error {
	s.mu.Lock()
	if s.failing {
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.records = append(s.records, r)
	release := s.release
	s.mu.Unlock()

	s.inserted <- struct{}{}
	if release != nil {
		<-release
	}
	return nil
}

func (s *gatedStorage) All(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

func (s *gatedStorage) ByDateRange(ctx context.Context, _, _ time.Time) ([]Record, error) {
	return s.All(ctx)
}

func (s *gatedStorage) PurgeBefore(context.Context, time.Time) (int, error) { return 0, nil }

func (s *gatedStorage) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *gatedStorage) Ping(context.Context) error { return nil }
func (s *gatedStorage) Location() string           { return "memory" }
func (s *gatedStorage) Close() error               { return nil }

// rebuildDuringInsert starts a Rebuild while an Insert is held open after
// storing its row, then lets the insert finish.
func rebuildDuringInsert(t *testing.T, l *Ledger, store *gatedStorage, insert func()) {
	t.Helper()
	store.hold()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		insert()
	}()
	<-store.inserted

	go func() {
		defer wg.Done()
		assert.NoError(t, l.Rebuild(context.Background()))
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()
}

func TestRebuild_ConcurrentWithRecord(t *testing.T) {
	store := newGatedStorage()
	l := New(store, config.DefaultRoutingConfig(), WithClock((&fakeClock{t: epoch}).Now))
	ctx := context.Background()

	rebuildDuringInsert(t, l, store, func() {
		_, err := l.Record(ctx, "claude-sonnet", 2000, 2000, "")
		assert.NoError(t, err)
	})

	durable, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, durable, 1)
	assert.Equal(t, 1, l.Totals().Requests)
	assert.InDelta(t, durable[0].ActualCost, l.Totals().Cost, 1e-12)
	assert.Equal(t, 1, l.ByBackend("claude-sonnet").Requests)
}

func TestRebuild_ConcurrentWithRetry(t *testing.T) {
	store := newGatedStorage()
	l := New(store, config.DefaultRoutingConfig(), WithClock((&fakeClock{t: epoch}).Now))
	ctx := context.Background()

	store.failing = true
	rec, err := l.Record(ctx, "gpt-4o", 1000, 1000, "")
	require.NoError(t, err)
	require.Equal(t, 1, l.Pending())
	store.failing = false

	rebuildDuringInsert(t, l, store, func() { l.retryPending(ctx) })

	assert.Zero(t, l.Pending())
	assert.Equal(t, 1, l.Totals().Requests)
	assert.InDelta(t, rec.ActualCost, l.Totals().Cost, 1e-12)
}

func TestRebuild_DoesNotResurrectLostRecords(t *testing.T) {
	store := newGatedStorage()
	l := New(store, config.DefaultRoutingConfig(),
		WithClock((&fakeClock{t: epoch}).Now),
		WithRetryPolicy(time.Minute, 1))
	ctx := context.Background()

	store.failing = true
	_, err := l.Record(ctx, "claude-opus", 1000, 1000, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.retryPending(ctx)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, l.Rebuild(ctx))
	}()
	wg.Wait()

	assert.Equal(t, 1, l.Lost())
	assert.Zero(t, l.Pending())
	assert.Zero(t, l.Totals().Requests)
	assert.Zero(t, l.Totals().Cost)
}
