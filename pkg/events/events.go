// Package events is a synchronous in-process publish/subscribe hub.
package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names published by the dispatcher.
const (
	RequestCompleted = "request_completed"
	RequestFailed    = "request_failed"
)

// Event is a published notification. Payload is shared between handlers and
// must be treated as read-only.
type Event struct {
	Name    string
	Payload map[string]any
	Time    time.Time
}

// Handler receives events.
type Handler func(Event) error

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Notifier delivers events to handlers in subscription order on the
// publisher's goroutine.
type Notifier struct {
	mu     sync.RWMutex
	next   SubscriptionID
	subs   map[string][]subscription
	logger *zap.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the notifier's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier creates an empty notifier.
func NewNotifier(opts ...Option) *Notifier {
	n := &Notifier{
		subs:   make(map[string][]subscription),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers h for events named name.
func (n *Notifier) Subscribe(name string, h Handler) SubscriptionID {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	n.subs[name] = append(n.subs[name], subscription{id: id, handler: h})
	return id
}

// Unsubscribe removes a subscription. It reports whether id was found.
func (n *Notifier) Unsubscribe(id SubscriptionID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for name, subs := range n.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			rest := make([]subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			n.subs[name] = rest
			return true
		}
	}
	return false
}

// Subscribers returns the number of handlers for name.
func (n *Notifier) Subscribers(name string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[name])
}

// Publish calls every handler subscribed to name, in order. All handlers run
// even if some fail; the first failure is returned. A panicking handler counts
// as a failure.
func (n *Notifier) Publish(name string, payload map[string]any) error {
	n.mu.RLock()
	subs := n.subs[name]
	n.mu.RUnlock()

	ev := Event{Name: name, Payload: payload, Time: time.Now()}
	var first error
	for _, s := range subs {
		if err := invoke(s.handler, ev); err != nil {
			n.logger.Warn("event handler failed",
				zap.String("event", name),
				zap.Uint64("subscription", uint64(s.id)),
				zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return h(ev)
}
