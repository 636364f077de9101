package pipeline

import (
	"errors"
	"testing"

	"parley/internal/services"
)

func TestNextStatus(t *testing.T) {
	allow := retryGuard{attempts: 1, maxAttempts: 3, retryable: true}
	tests := []struct {
		name    string
		from    Status
		ev      event
		guard   retryGuard
		want    Status
		wantErr bool
	}{
		{name: "cache hit", from: StatusPending, ev: eventCacheHit, want: StatusSkippedCached},
		{name: "start", from: StatusPending, ev: eventStart, want: StatusRunning},
		{name: "dependency failed", from: StatusPending, ev: eventDependencyFailed, want: StatusFailed},
		{name: "success", from: StatusRunning, ev: eventSuccess, want: StatusSucceeded},
		{name: "failure", from: StatusRunning, ev: eventFailure, want: StatusFailed},
		{name: "retry allowed", from: StatusFailed, ev: eventRetry, guard: allow, want: StatusPending},
		{name: "retry exhausted", from: StatusFailed, ev: eventRetry, guard: retryGuard{attempts: 3, maxAttempts: 3, retryable: true}, want: StatusFailed},
		{name: "retry not retryable", from: StatusFailed, ev: eventRetry, guard: retryGuard{attempts: 1, maxAttempts: 3}, want: StatusFailed},
		{name: "retry after cancel", from: StatusFailed, ev: eventRetry, guard: retryGuard{attempts: 1, maxAttempts: 3, retryable: true, canceled: true}, want: StatusFailed},
		{name: "cached cannot start", from: StatusSkippedCached, ev: eventStart, wantErr: true},
		{name: "running cannot hit cache", from: StatusRunning, ev: eventCacheHit, wantErr: true},
		{name: "succeeded is terminal", from: StatusSucceeded, ev: eventFailure, wantErr: true},
		{name: "pending cannot succeed", from: StatusPending, ev: eventSuccess, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextStatus(tt.from, tt.ev, tt.guard)
			if tt.wantErr {
				if !errors.Is(err, services.ErrInvariant) {
					t.Fatalf("expected invariant error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("nextStatus: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}
