// Package tools dispatches and executes governed tools under per-agent
// policy and guardrails. Every invocation is bracketed by toolCall and
// toolResult events in the session log.
package tools

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// Request is one tool invocation as delivered by the model provider.
type Request struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Call is a request bound to its session context.
type Call struct {
	Request
	AgentID   string
	SessionID string
	UserID    string
}

// Result is the uniform tool outcome.
type Result struct {
	Tool       string            `json:"tool"`
	OK         bool              `json:"ok"`
	Data       json.RawMessage   `json:"data,omitempty"`
	Error      *events.ErrorInfo `json:"error,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

func okResult(tool string, data any) Result {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("tools: cannot marshal result data", "tool", tool, "error", err)
		return failResult(tool, faults.New(faults.StorageFailure, "cannot encode result: %v", err))
	}
	return Result{Tool: tool, OK: true, Data: raw}
}

func failResult(tool string, err error) Result {
	return Result{Tool: tool, OK: false, Error: errorInfo(err)}
}

func errorInfo(err error) *events.ErrorInfo {
	if err == nil {
		return nil
	}
	var fe *faults.Error
	if errors.As(err, &fe) {
		return &events.ErrorInfo{Code: fe.Code, Message: fe.Message, Retryable: fe.Retryable}
	}
	return &events.ErrorInfo{Code: faults.ExecFailed, Message: err.Error()}
}

// Argument helpers. JSON numbers arrive as float64; booleans and strings
// as themselves.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func int64Arg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
