package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeExtraction(t *testing.T) {
	base := New(SessionNotFound, "session %q not found", "s1")
	wrapped := fmt.Errorf("loading detail: %w", base)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), ""},
		{"coded", base, SessionNotFound},
		{"wrapped coded", wrapped, SessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code = %q, want %q", got, tt.want)
			}
		})
	}

	if !Is(wrapped, SessionNotFound) {
		t.Error("Is did not see through wrapping")
	}
	if Is(wrapped, AgentNotFound) {
		t.Error("Is matched the wrong code")
	}
}

func TestRetryable(t *testing.T) {
	if New(RateLimited, "x").Retryable {
		t.Error("New produced a retryable error")
	}
	if !Retry(RateLimited, "x").Retryable {
		t.Error("Retry produced a non-retryable error")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(StorageFailure, nil) != nil {
		t.Error("Wrap(nil) != nil")
	}
	cause := errors.New("disk full")
	err := Wrap(StorageFailure, cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if err.Error() != "storage_failure: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestEnsure(t *testing.T) {
	if Ensure(ExecFailed, nil) != nil {
		t.Error("Ensure(nil) != nil")
	}
	coded := New(NotConfigured, "no backend")
	if got := Ensure(ExecFailed, coded); Code(got) != NotConfigured {
		t.Errorf("Ensure rewrapped a coded error: %v", got)
	}
	plain := errors.New("boom")
	if got := Ensure(ExecFailed, plain); Code(got) != ExecFailed {
		t.Errorf("Ensure did not code a plain error: %v", got)
	}
}
