package dispatch

import (
	"time"

	"github.com/zen-systems/routegate/pkg/adapter"
	"github.com/zen-systems/routegate/pkg/artifact"
	"github.com/zen-systems/routegate/pkg/fallback"
	"github.com/zen-systems/routegate/pkg/ledger"
	"github.com/zen-systems/routegate/pkg/router"
)

// TokenHints are caller-supplied token counts used for costing when a
// backend reports no usage.
type TokenHints struct {
	In  int
	Out int
}

// Request is one call to dispatch. It is not modified by the dispatcher.
type Request struct {
	ID              string
	Prompt          string
	Tags            []string
	BackendOverride string
	TaskOverride    string
	Params          adapter.Params
	TokenHints      *TokenHints
	// CacheTTL overrides the cache's default time-to-live for this result.
	CacheTTL time.Duration
}

// Result is the outcome of a dispatched request.
type Result struct {
	RequestID string
	Artifact  *artifact.Artifact
	Decision  *router.Decision
	Backend   string
	CacheHit  bool
	// Cost is nil on a cache hit.
	Cost     *ledger.Record
	Attempts []fallback.Attempt
	Duration time.Duration
}

// FallbackUsed reports whether a backend other than the routed one answered.
func (r *Result) FallbackUsed() bool {
	return r.Decision != nil && r.Backend != r.Decision.Backend
}
