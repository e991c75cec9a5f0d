package fallback

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zen-systems/routegate/pkg/backend"
)

// ErrAllBackendsExhausted matches any *ExhaustedError via errors.Is.
var ErrAllBackendsExhausted = errors.New("all backends exhausted")

// Failure records why one chain member failed.
type Failure struct {
	Backend string       `json:"backend"`
	Kind    backend.Kind `json:"kind"`
	Reason  string       `json:"reason"`
	Err     error        `json:"-"`
}

// ExhaustedError is returned when every backend in a chain failed. Failures
// holds one entry per chain member, in chain order.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "all backends exhausted: empty fallback chain"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", f.Backend, f.Kind, f.Reason))
	}
	return "all backends exhausted: " + strings.Join(parts, "; ")
}

// Is reports whether target is ErrAllBackendsExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllBackendsExhausted
}

// Unwrap exposes the individual attempt errors.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Backends lists the backends that were tried, in order.
func (e *ExhaustedError) Backends() []string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.Backend)
	}
	return ids
}
