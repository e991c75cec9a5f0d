// Package backend binds backend identifiers to provider adapters and exposes
// the single invoke operation the fallback executor calls per attempt.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/routegate/pkg/adapter"
	"github.com/zen-systems/routegate/pkg/artifact"
	"github.com/zen-systems/routegate/pkg/config"
)

// Kind classifies a failed backend attempt.
type Kind string

const (
	// Transient failures (timeouts, rate limits, 5xx) may succeed elsewhere or later.
	Transient Kind = "transient"
	// Permanent failures (auth, config, malformed request) will not succeed on retry.
	Permanent Kind = "permanent"
)

// Error is a classified failure of one backend attempt.
type Error struct {
	Backend string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "backend error"
	}
	return fmt.Sprintf("%s (%s): %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify wraps err as a backend Error, deriving its kind from the adapter
// error taxonomy.
func Classify(backendID string, err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	kind := Permanent
	if adapter.IsTransient(err) {
		kind = Transient
	}
	return &Error{Backend: backendID, Kind: kind, Err: err}
}

// Executor invokes a single backend once. It is the only network boundary
// of the dispatch pipeline.
type Executor interface {
	Invoke(ctx context.Context, backendID, prompt string, params adapter.Params, timeout time.Duration) (*artifact.Artifact, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, backendID, prompt string, params adapter.Params, timeout time.Duration) (*artifact.Artifact, error)

// Invoke calls f.
func (f ExecutorFunc) Invoke(ctx context.Context, backendID, prompt string, params adapter.Params, timeout time.Duration) (*artifact.Artifact, error) {
	return f(ctx, backendID, prompt, params, timeout)
}

// Registry resolves backend ids through the routing config's backend table
// and calls the matching adapter.
type Registry struct {
	adapters map[string]adapter.Adapter
	routing  *config.RoutingConfig
}

// NewRegistry creates a registry over the given adapters (keyed by adapter name).
func NewRegistry(adapters map[string]adapter.Adapter, routing *config.RoutingConfig) *Registry {
	return &Registry{adapters: adapters, routing: routing}
}

// Invoke runs one attempt against backendID with a bounded timeout. The
// returned artifact carries the backend id and token usage. Failures are
// always *Error.
func (r *Registry) Invoke(ctx context.Context, backendID, prompt string, params adapter.Params, timeout time.Duration) (*artifact.Artifact, error) {
	spec, ok := r.routing.Backend(backendID)
	if !ok {
		return nil, &Error{Backend: backendID, Kind: Permanent, Err: fmt.Errorf("unknown backend")}
	}
	impl, ok := r.adapters[spec.Adapter]
	if !ok || impl == nil {
		return nil, &Error{Backend: backendID, Kind: Permanent, Err: fmt.Errorf("adapter %q not configured", spec.Adapter)}
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := impl.Generate(callCtx, spec.Model, prompt, params)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Backend: backendID, Kind: Transient, Err: fmt.Errorf("timed out after %s: %w", timeout, err)}
		}
		return nil, Classify(backendID, err)
	}
	if resp == nil || resp.Artifact == nil {
		return nil, &Error{Backend: backendID, Kind: Transient, Err: fmt.Errorf("empty response")}
	}

	var usage adapter.Usage
	if resp.Usage != nil {
		usage = resp.Usage.Normalize()
	}
	return resp.Artifact.WithBackend(backendID).WithUsage(usage.PromptTokens, usage.CompletionTokens), nil
}

// Available reports whether backendID resolves to a configured adapter.
func (r *Registry) Available(backendID string) bool {
	spec, ok := r.routing.Backend(backendID)
	if !ok {
		return false
	}
	impl, ok := r.adapters[spec.Adapter]
	return ok && impl != nil
}

// Info describes a backend for listing.
type Info struct {
	ID        string
	Adapter   string
	Model     string
	Available bool
	Pricing   config.ModelPricing
}

// Describe lists every configured backend, sorted by id.
func (r *Registry) Describe() []Info {
	var out []Info
	for _, id := range r.routing.BackendIDs() {
		spec, _ := r.routing.Backend(id)
		out = append(out, Info{
			ID:        id,
			Adapter:   spec.Adapter,
			Model:     spec.Model,
			Available: r.Available(id),
			Pricing:   r.routing.Price(id),
		})
	}
	return out
}
