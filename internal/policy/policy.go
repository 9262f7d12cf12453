// Package policy stores per-agent tool policies and answers allow/deny
// questions for (agent, tool) pairs.
package policy

import (
	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// PolicyVersion is the only accepted tools.json schema version.
const PolicyVersion = 1

// KnownTools is the closed tool catalog the validator accepts.
var KnownTools = map[string]bool{
	"files.read":       true,
	"files.write":      true,
	"files.edit":       true,
	"runtime.exec":     true,
	"runtime.process":  true,
	"sessions.spawn":   true,
	"sessions.list":    true,
	"sessions.history": true,
	"sessions.status":  true,
	"sessions.send":    true,
	"messages.send":    true,
	"agents.list":      true,
	"web.search":       true,
	"web.fetch":        true,
	"memory.get":       true,
	"memory.search":    true,
	"cron":             true,
}

// ToolSpec is a per-tool override. Allow is a tri-state: nil defers to the
// default policy.
type ToolSpec struct {
	Allow *bool `json:"allow,omitempty"`
}

// Guardrails are the numeric and list limits the executor enforces before
// performing work. All numeric guardrails are strictly positive.
type Guardrails struct {
	MaxReadBytes           int64    `json:"maxReadBytes"`
	MaxWriteBytes          int64    `json:"maxWriteBytes"`
	ExecTimeoutMs          int64    `json:"execTimeoutMs"`
	MaxExecOutputBytes     int64    `json:"maxExecOutputBytes"`
	MaxProcessesPerSession int      `json:"maxProcessesPerSession"`
	MaxToolCallsPerMinute  int      `json:"maxToolCallsPerMinute"`
	WebTimeoutMs           int64    `json:"webTimeoutMs"`
	WebMaxBytes            int64    `json:"webMaxBytes"`
	DeniedCommandPrefixes  []string `json:"deniedCommandPrefixes"`
	AllowedWriteRoots      []string `json:"allowedWriteRoots"`
	AllowedExecRoots       []string `json:"allowedExecRoots"`
}

// Policy is the per-agent tools policy persisted at tools/tools.json.
type Policy struct {
	Version       int                 `json:"version"`
	DefaultPolicy string              `json:"defaultPolicy"` // "allow" or "deny"
	Tools         map[string]ToolSpec `json:"tools"`
	Guardrails    Guardrails          `json:"guardrails"`
}

// Default returns the policy written for a freshly created agent.
func Default() Policy {
	return Policy{
		Version:       PolicyVersion,
		DefaultPolicy: "allow",
		Tools:         map[string]ToolSpec{},
		Guardrails: Guardrails{
			MaxReadBytes:           1 << 20,
			MaxWriteBytes:          1 << 20,
			ExecTimeoutMs:          60_000,
			MaxExecOutputBytes:     256_000,
			MaxProcessesPerSession: 8,
			MaxToolCallsPerMinute:  60,
			WebTimeoutMs:           30_000,
			WebMaxBytes:            2 << 20,
			DeniedCommandPrefixes: []string{
				"rm", "sudo", "su", "shutdown", "reboot", "poweroff", "mkfs", "dd",
			},
		},
	}
}

// Validate rejects malformed policies with invalid_payload.
func (p *Policy) Validate() error {
	if p.Version != PolicyVersion {
		return faults.New(faults.InvalidPayload, "unsupported policy version %d", p.Version)
	}
	switch p.DefaultPolicy {
	case "allow", "deny":
	default:
		return faults.New(faults.InvalidPayload, "defaultPolicy must be allow or deny")
	}
	for tool := range p.Tools {
		if !KnownTools[tool] {
			return faults.New(faults.InvalidPayload, "unknown tool %q in policy", tool)
		}
	}
	g := p.Guardrails
	for name, v := range map[string]int64{
		"maxReadBytes":           g.MaxReadBytes,
		"maxWriteBytes":          g.MaxWriteBytes,
		"execTimeoutMs":          g.ExecTimeoutMs,
		"maxExecOutputBytes":     g.MaxExecOutputBytes,
		"maxProcessesPerSession": int64(g.MaxProcessesPerSession),
		"maxToolCallsPerMinute":  int64(g.MaxToolCallsPerMinute),
		"webTimeoutMs":           g.WebTimeoutMs,
		"webMaxBytes":            g.WebMaxBytes,
	} {
		if v <= 0 {
			return faults.New(faults.InvalidPayload, "guardrail %s must be > 0", name)
		}
	}
	return nil
}

// Allows resolves the decision for one tool id: an explicit per-tool allow
// wins, otherwise the default policy applies.
func (p *Policy) Allows(toolID string) bool {
	if spec, ok := p.Tools[toolID]; ok && spec.Allow != nil {
		return *spec.Allow
	}
	return p.DefaultPolicy == "allow"
}
