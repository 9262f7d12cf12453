package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/sessiond/internal/agents"
	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
	"github.com/nextlevelbuilder/sessiond/internal/procs"
)

// Executor dispatches tool invocations under policy and guardrails.
type Executor struct {
	auth      *policy.Authorizer
	log       *events.Log
	catalog   *agents.Catalog
	procs     *procs.Registry
	workspace string

	sessions SessionOps
	web      WebAdapter
	memory   MemoryAdapter
	cron     *gronx.Gronx
	tracer   trace.Tracer

	mu       sync.Mutex
	limiters map[string]*sessionLimiter
}

type sessionLimiter struct {
	rpm int
	lim *rate.Limiter
}

// NewExecutor wires the executor to its stores. Session operations are bound
// later via BindSessions.
func NewExecutor(auth *policy.Authorizer, log *events.Log, catalog *agents.Catalog, registry *procs.Registry, workspace string) *Executor {
	return &Executor{
		auth:      auth,
		log:       log,
		catalog:   catalog,
		procs:     registry,
		workspace: workspace,
		web:       NewHTTPWebAdapter(),
		cron:      gronx.New(),
		tracer:    otel.Tracer("sessiond/tools"),
		limiters:  make(map[string]*sessionLimiter),
	}
}

// BindSessions attaches the orchestrator-facing session operations.
func (e *Executor) BindSessions(ops SessionOps) { e.sessions = ops }

// BindWeb replaces the web adapter.
func (e *Executor) BindWeb(a WebAdapter) { e.web = a }

// BindMemory attaches a memory adapter.
func (e *Executor) BindMemory(a MemoryAdapter) { e.memory = a }

// UpdateWorkspace repoints path confinement at a new workspace root.
func (e *Executor) UpdateWorkspace(root string) {
	e.mu.Lock()
	e.workspace = root
	e.mu.Unlock()
}

func (e *Executor) workspaceRoot() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workspace
}

// Invoke authorizes, rate-limits, and executes one tool call. The call is
// bracketed by toolCall and toolResult events; failures to persist those are
// logged but never fail the invocation itself.
func (e *Executor) Invoke(ctx context.Context, call Call) Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tools.invoke", trace.WithAttributes(
		attribute.String("tool", call.Tool),
		attribute.String("agent", call.AgentID),
		attribute.String("session", call.SessionID),
	))
	defer span.End()

	result := e.invoke(ctx, call)
	result.Tool = call.Tool
	result.DurationMs = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Bool("ok", result.OK))

	e.recordResult(ctx, call, result)
	return result
}

func (e *Executor) invoke(ctx context.Context, call Call) Result {
	if !policy.KnownTools[call.Tool] {
		return failResult(call.Tool, faults.New(faults.InvalidTool, "unknown tool %q", call.Tool))
	}
	decision, err := e.auth.Authorize(call.AgentID, call.Tool)
	if err != nil {
		return failResult(call.Tool, err)
	}
	if !decision.Allowed {
		return failResult(call.Tool, decision.Error)
	}
	g := decision.Policy.Guardrails
	if !e.allowCall(call.SessionID, g.MaxToolCallsPerMinute) {
		return failResult(call.Tool, faults.Retry(faults.RateLimited, "session %q exceeded %d tool calls per minute", call.SessionID, g.MaxToolCallsPerMinute))
	}

	e.recordCall(ctx, call)

	switch call.Tool {
	case "files.read":
		return e.readFile(call, g)
	case "files.write":
		return e.writeFile(call, g)
	case "files.edit":
		return e.editFile(call, g)
	case "runtime.exec":
		return e.execCommand(call, g)
	case "runtime.process":
		return e.manageProcess(ctx, call, g)
	case "sessions.spawn":
		return e.spawnSession(ctx, call)
	case "sessions.list":
		return e.listSessions(ctx, call)
	case "sessions.history":
		return e.sessionHistory(ctx, call)
	case "sessions.status":
		return e.sessionStatus(ctx, call)
	case "sessions.send", "messages.send":
		return e.sendMessage(ctx, call)
	case "agents.list":
		return e.listAgents(call)
	case "web.search":
		return e.webSearch(ctx, call, g)
	case "web.fetch":
		return e.webFetch(ctx, call, g)
	case "memory.get":
		return e.memoryGet(ctx, call)
	case "memory.search":
		return e.memorySearch(ctx, call)
	case "cron":
		return e.cronCheck(call)
	}
	return failResult(call.Tool, faults.New(faults.InvalidTool, "unknown tool %q", call.Tool))
}

// allowCall enforces the per-session call budget. The limiter is rebuilt
// when the guardrail changes.
func (e *Executor) allowCall(sessionID string, rpm int) bool {
	e.mu.Lock()
	sl, ok := e.limiters[sessionID]
	if !ok || sl.rpm != rpm {
		sl = &sessionLimiter{
			rpm: rpm,
			lim: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		}
		e.limiters[sessionID] = sl
	}
	e.mu.Unlock()
	return sl.lim.Allow()
}

// ForgetSession drops the rate limiter state for a deleted session.
func (e *Executor) ForgetSession(sessionID string) {
	e.mu.Lock()
	delete(e.limiters, sessionID)
	e.mu.Unlock()
}

func (e *Executor) recordCall(ctx context.Context, call Call) {
	ev := events.New(call.AgentID, call.SessionID, events.TypeToolCall)
	ev.ToolCall = &events.ToolCallPayload{Tool: call.Tool, Arguments: call.Arguments, Reason: call.Reason}
	if _, err := e.log.Append(ctx, call.AgentID, call.SessionID, []events.Event{ev}); err != nil {
		slog.Warn("tools: cannot record toolCall event", "tool", call.Tool, "session", call.SessionID, "error", err)
	}
}

func (e *Executor) recordResult(ctx context.Context, call Call, res Result) {
	ev := events.New(call.AgentID, call.SessionID, events.TypeToolResult)
	ev.ToolResult = &events.ToolResultPayload{
		Tool:       res.Tool,
		OK:         res.OK,
		Data:       res.Data,
		Error:      res.Error,
		DurationMs: res.DurationMs,
	}
	if _, err := e.log.Append(ctx, call.AgentID, call.SessionID, []events.Event{ev}); err != nil {
		slog.Warn("tools: cannot record toolResult event", "tool", call.Tool, "session", call.SessionID, "error", err)
	}
}
