package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "rate limited", err: &AdapterError{Status: 429, Err: errors.New("slow down")}, want: true},
		{name: "server error", err: &AdapterError{Status: 503}, want: true},
		{name: "temporary flag", err: &AdapterError{Status: 400, Temporary: true}, want: true},
		{name: "unauthorized", err: &AdapterError{Status: 401}, want: false},
		{name: "bad request", err: fmt.Errorf("wrapped: %w", &AdapterError{Status: 400}), want: false},
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, want: true},
		{name: "plain error", err: errors.New("malformed"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAdapterErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &AdapterError{Status: 500, Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to reach inner error")
	}
	if err.Error() != "boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if (&AdapterError{Status: 418}).Error() != "adapter error (status=418)" {
		t.Fatalf("unexpected status-only message")
	}
}
