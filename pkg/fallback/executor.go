// Package fallback runs a request down an ordered chain of backends until
// one succeeds.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/adapter"
	"github.com/zen-systems/routegate/pkg/artifact"
	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/config"
)

// Request is what each backend in the chain is asked to run.
type Request struct {
	Prompt string
	Params adapter.Params
}

// Attempt reports a single backend call.
type Attempt struct {
	Backend  string        `json:"backend"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the first successful backend output.
type Result struct {
	Artifact *artifact.Artifact
	Backend  string
	Attempts []Attempt
}

// FallbackUsed reports whether a backend other than the chain head served
// the request.
func (r *Result) FallbackUsed() bool {
	return len(r.Attempts) > 1
}

// Executor walks fallback chains.
type Executor struct {
	backends backend.Executor
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAttemptTimeout bounds every backend attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// New creates an executor over the backend capability.
func New(backends backend.Executor, opts ...Option) *Executor {
	e := &Executor{
		backends: backends,
		timeout:  config.DefaultAttemptTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute tries each backend of chain once, in order, and returns the first
// success. Duplicate ids are skipped. When every backend fails the error is an
// *ExhaustedError. A cancelled ctx stops the chain and its error is returned.
func (e *Executor) Execute(ctx context.Context, chain []string, req Request) (*Result, error) {
	chain = Dedupe(chain)
	var (
		attempts []Attempt
		failures []Failure
	)

	for idx, id := range chain {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dispatch cancelled after %d attempts: %w", len(attempts), err)
		}

		start := time.Now()
		art, err := e.backends.Invoke(ctx, id, req.Prompt, req.Params, e.timeout)
		elapsed := time.Since(start)

		if err == nil {
			attempts = append(attempts, Attempt{Backend: id, Duration: elapsed})
			if idx > 0 {
				e.logger.Info("fallback backend succeeded",
					zap.String("backend", id),
					zap.String("primary", chain[0]),
					zap.Int("attempt", idx+1))
			}
			return &Result{Artifact: art, Backend: id, Attempts: attempts}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("dispatch cancelled after %d attempts: %w", len(attempts)+1, ctxErr)
		}

		be := backend.Classify(id, err)
		attempts = append(attempts, Attempt{Backend: id, Duration: elapsed, Error: be.Err.Error()})
		failures = append(failures, Failure{Backend: id, Kind: be.Kind, Reason: be.Err.Error(), Err: be})

		e.logger.Warn("backend attempt failed",
			zap.String("backend", id),
			zap.String("kind", string(be.Kind)),
			zap.Duration("duration", elapsed),
			zap.Int("attempt", idx+1),
			zap.Int("chain_length", len(chain)),
			zap.Error(be.Err))
	}

	exhausted := &ExhaustedError{Failures: failures}
	e.logger.Error("all backends exhausted",
		zap.Strings("chain", chain),
		zap.Error(exhausted))
	return nil, exhausted
}

// Dedupe removes repeated backend ids while preserving order.
func Dedupe(chain []string) []string {
	seen := make(map[string]struct{}, len(chain))
	out := make([]string, 0, len(chain))
	for _, id := range chain {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
