// Package cache stores backend results keyed by (backend, prompt, params)
// with a time-to-live and a soft size cap. Backend failures degrade to cache
// misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/artifact"
	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/lifecycle"
)

// Store is the response cache.
type Store struct {
	backend  Backend
	ttl      time.Duration
	maxBytes int64
	sweep    time.Duration
	now      func() time.Time
	logger   *zap.Logger

	failures atomic.Int64
	lastErr  atomic.Value // string

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the default time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxBytes sets the soft size cap. Zero disables it.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		s.maxBytes = n
	}
}

// WithSweepInterval enables a background expiry sweep once started.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		s.sweep = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		ttl:      config.DefaultCacheTTL,
		maxBytes: config.DefaultCacheMaxBytes,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open builds the configured backend and wraps it in a Store.
func Open(ctx context.Context, cfg config.CacheConfig, opts ...Option) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "", "sqlite":
		backend, err = OpenSQLite(cfg.Path)
	case "redis":
		backend, err = OpenRedis(ctx, RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	default:
		return nil, &config.ConfigurationError{Field: "cache.backend", Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
	}
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithTTL(cfg.TTL), WithMaxBytes(cfg.MaxBytes)}, opts...)
	return New(backend, opts...), nil
}

// TTL returns the default time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the live artifact stored under key. Expired, corrupt and
// unreadable entries are reported as misses.
func (s *Store) Get(ctx context.Context, key string) (*artifact.Artifact, bool) {
	entry, err := s.backend.Get(ctx, key)
	if err != nil {
		s.fail(ctx, "get", err)
		return nil, false
	}
	s.markHealthy()
	if entry == nil {
		s.logger.Debug("cache miss", zap.String("key", shortKey(key)))
		return nil, false
	}

	now := s.now()
	if entry.Expired(now) {
		s.logger.Debug("cache entry expired", zap.String("key", shortKey(key)))
		if _, err := s.backend.DeleteExpiredKey(ctx, key, now); err != nil {
			s.fail(ctx, "delete expired", err)
		}
		return nil, false
	}

	var art artifact.Artifact
	if err := json.Unmarshal(entry.Payload, &art); err != nil {
		s.logger.Warn("dropping undecodable cache entry", zap.String("key", shortKey(key)), zap.Error(err))
		if err := s.backend.Delete(ctx, key); err != nil {
			s.fail(ctx, "delete", err)
		}
		return nil, false
	}

	if err := s.backend.Touch(ctx, key, now); err != nil {
		s.fail(ctx, "touch", err)
	}
	s.logger.Debug("cache hit", zap.String("key", shortKey(key)), zap.String("backend", entry.Backend))
	return &art, true
}

// Put stores art under key, replacing any existing entry. A ttl of zero uses
// the store default. Failures are logged and otherwise ignored.
func (s *Store) Put(ctx context.Context, key string, art *artifact.Artifact, ttl time.Duration) {
	if art == nil {
		return
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	payload, err := json.Marshal(art)
	if err != nil {
		s.logger.Warn("cannot encode artifact for cache", zap.Error(err))
		return
	}

	now := s.now()
	entry := Entry{
		Key:          key,
		Payload:      payload,
		Backend:      art.Backend,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
	}
	if err := s.backend.Put(ctx, entry); err != nil {
		s.fail(ctx, "put", err)
		return
	}
	s.markHealthy()
	s.enforceCap(ctx, now)
}

func (s *Store) enforceCap(ctx context.Context, now time.Time) {
	if s.maxBytes <= 0 {
		return
	}
	if _, err := s.backend.DeleteExpired(ctx, now); err != nil {
		s.fail(ctx, "evict expired", err)
		return
	}
	n, err := s.backend.EvictLRU(ctx, s.maxBytes)
	if err != nil {
		s.fail(ctx, "evict lru", err)
		return
	}
	if n > 0 {
		s.logger.Debug("cache size cap enforced", zap.Int("evicted", n), zap.Int64("max_bytes", s.maxBytes))
	}
}

// EvictExpired removes expired entries and returns how many were removed.
func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	n, err := s.backend.DeleteExpired(ctx, s.now())
	if err != nil {
		s.fail(ctx, "evict expired", err)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Stats reports entry counts and size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st, err := s.backend.Stats(ctx, s.now())
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	st.MaxBytes = s.maxBytes
	return st, nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) (int, error) {
	n, err := s.backend.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Start checks the backend and launches the expiry sweep if configured.
func (s *Store) Start(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		s.degrade("ping", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweep <= 0 || s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.sweepLoop(s.stop, s.done)
	return nil
}

func (s *Store) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := s.EvictExpired(context.Background())
			if err == nil && n > 0 {
				s.logger.Debug("swept expired cache entries", zap.Int("count", n))
			}
		}
	}
}

// Stop halts the sweep and closes the backend.
func (s *Store) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return s.backend.Close()
}

// Health reports down when the backend cannot be reached and degraded after
// recent operation failures.
func (s *Store) Health(ctx context.Context) lifecycle.Status {
	st := lifecycle.Status{
		Component: "cache",
		State:     lifecycle.Healthy,
		Details:   map[string]string{"location": s.backend.Location()},
		CheckedAt: s.now(),
	}
	if err := s.backend.Ping(ctx); err != nil {
		st.State = lifecycle.Down
		st.Details["error"] = err.Error()
		return st
	}
	if n := s.failures.Load(); n > 0 {
		st.State = lifecycle.Degraded
		st.Details["consecutive_failures"] = strconv.FormatInt(n, 10)
		if msg, ok := s.lastErr.Load().(string); ok {
			st.Details["last_error"] = msg
		}
	}
	return st
}

// fail records a backend error against the store's health unless the
// caller's context ended first.
func (s *Store) fail(ctx context.Context, op string, err error) {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		s.logger.Debug("cache operation abandoned", zap.String("op", op), zap.Error(err))
		return
	}
	s.degrade(op, err)
}

func (s *Store) degrade(op string, err error) {
	s.failures.Add(1)
	s.lastErr.Store(err.Error())
	s.logger.Warn("cache degraded", zap.String("op", op), zap.Error(err))
}

func (s *Store) markHealthy() {
	s.failures.Store(0)
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
