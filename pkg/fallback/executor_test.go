package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/routegate/pkg/adapter"
	"github.com/zen-systems/routegate/pkg/artifact"
	"github.com/zen-systems/routegate/pkg/backend"
)

type scriptedBackends struct {
	mu       sync.Mutex
	failures map[string]error
	calls    []string
	timeouts []time.Duration
	onCall   func(id string)
}

func (s *scriptedBackends) Invoke(ctx context.Context, id, prompt string, _ adapter.Params, timeout time.Duration) (*artifact.Artifact, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	s.timeouts = append(s.timeouts, timeout)
	err := s.failures[id]
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	return artifact.New("answer from "+id, "mock", "m").WithBackend(id), nil
}

func transient(id string) error {
	return &backend.Error{Backend: id, Kind: backend.Transient, Err: errors.New("503 service unavailable")}
}

func permanent(id string) error {
	return &backend.Error{Backend: id, Kind: backend.Permanent, Err: errors.New("401 unauthorized")}
}

func TestExecute_FirstSuccessWins(t *testing.T) {
	b := &scriptedBackends{failures: map[string]error{"A": transient("A")}}
	exec := New(b, WithAttemptTimeout(time.Second))

	res, err := exec.Execute(context.Background(), []string{"A", "B", "C"}, Request{Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "B", res.Backend)
	assert.Equal(t, "answer from B", res.Artifact.Content)
	assert.Equal(t, []string{"A", "B"}, b.calls, "C must never be invoked")
	assert.True(t, res.FallbackUsed())
	require.Len(t, res.Attempts, 2)
	assert.NotEmpty(t, res.Attempts[0].Error)
	assert.Empty(t, res.Attempts[1].Error)
}

func TestExecute_PermanentFailureMovesOn(t *testing.T) {
	b := &scriptedBackends{failures: map[string]error{"A": permanent("A")}}
	exec := New(b)

	res, err := exec.Execute(context.Background(), []string{"A", "B"}, Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "B", res.Backend)
	assert.Equal(t, []string{"A", "B"}, b.calls)
}

func TestExecute_AllFail(t *testing.T) {
	b := &scriptedBackends{failures: map[string]error{
		"A": transient("A"),
		"B": permanent("B"),
		"C": &adapter.AdapterError{Status: 429, Err: errors.New("rate limited")},
	}}
	exec := New(b)

	_, err := exec.Execute(context.Background(), []string{"A", "B", "C"}, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllBackendsExhausted)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Failures, 3)
	assert.Equal(t, []string{"A", "B", "C"}, exhausted.Backends())
	assert.Equal(t, backend.Transient, exhausted.Failures[0].Kind)
	assert.Equal(t, backend.Permanent, exhausted.Failures[1].Kind)
	assert.Equal(t, backend.Transient, exhausted.Failures[2].Kind)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestExecute_DuplicatesTriedOnce(t *testing.T) {
	b := &scriptedBackends{failures: map[string]error{"A": transient("A"), "B": transient("B")}}
	exec := New(b)

	_, err := exec.Execute(context.Background(), []string{"A", "B", "A", "B"}, Request{})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Failures, 2)
	assert.Equal(t, []string{"A", "B"}, b.calls)
}

func TestExecute_PassesAttemptTimeout(t *testing.T) {
	b := &scriptedBackends{}
	exec := New(b, WithAttemptTimeout(250*time.Millisecond))

	_, err := exec.Execute(context.Background(), []string{"A"}, Request{})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, b.timeouts)
}

func TestExecute_CancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &scriptedBackends{onCall: func(id string) {
		if id == "A" {
			cancel()
		}
	}}
	exec := New(b)

	_, err := exec.Execute(ctx, []string{"A", "B"}, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAllBackendsExhausted)
	assert.Equal(t, []string{"A"}, b.calls)
}

func TestExecute_EmptyChain(t *testing.T) {
	exec := New(&scriptedBackends{})
	_, err := exec.Execute(context.Background(), nil, Request{})
	assert.ErrorIs(t, err, ErrAllBackendsExhausted)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", "b", "a", "", "c", "b"}))
}
