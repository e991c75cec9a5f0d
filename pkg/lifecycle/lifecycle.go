// Package lifecycle defines the start/stop/health contract shared by the
// long-lived dispatch components.
package lifecycle

import (
	"context"
	"time"
)

// State is a coarse component health state.
type State string

const (
	Healthy  State = "healthy"
	Degraded State = "degraded"
	Down     State = "down"
)

// Status is a point-in-time health report.
type Status struct {
	Component string            `json:"component"`
	State     State             `json:"state"`
	Details   map[string]string `json:"details,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Component is implemented by the cache store, the cost ledger and the
// dispatcher.
type Component interface {
	Start(ctx context.Context) error
	Stop() error
	Health(ctx context.Context) Status
}

// Worst returns the most severe state among statuses.
func Worst(statuses ...Status) State {
	state := Healthy
	for _, s := range statuses {
		switch s.State {
		case Down:
			return Down
		case Degraded:
			state = Degraded
		}
	}
	return state
}
