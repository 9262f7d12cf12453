package tools

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// SessionOps is the slice of the orchestrator the session tools call back
// into. The executor receives it after construction to break the otherwise
// circular wiring between executor and orchestrator.
type SessionOps interface {
	SpawnSession(ctx context.Context, agentID, title, parentSessionID string) (events.Summary, error)
	SendMessage(ctx context.Context, agentID, sessionID, content, userID string) (events.Summary, error)
}

type sessionListData struct {
	Sessions []events.Summary `json:"sessions"`
}

type sessionStatusData struct {
	Session          events.Summary `json:"session"`
	Stage            events.Stage   `json:"stage"`
	RunningProcesses int            `json:"runningProcesses"`
}

type agentListData struct {
	Agents []agentEntry `json:"agents"`
}

type agentEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func (e *Executor) spawnSession(ctx context.Context, call Call) Result {
	if e.sessions == nil {
		return failResult(call.Tool, faults.New(faults.NotConfigured, "session operations are not bound"))
	}
	parent := stringArg(call.Arguments, "parentSessionId")
	if parent == "" {
		parent = call.SessionID
	}
	summary, err := e.sessions.SpawnSession(ctx, call.AgentID, stringArg(call.Arguments, "title"), parent)
	if err != nil {
		return failResult(call.Tool, err)
	}
	return okResult(call.Tool, summary)
}

func (e *Executor) listSessions(ctx context.Context, call Call) Result {
	summaries, err := e.log.ListSessions(ctx, call.AgentID)
	if err != nil {
		return failResult(call.Tool, err)
	}
	return okResult(call.Tool, sessionListData{Sessions: summaries})
}

func (e *Executor) sessionHistory(ctx context.Context, call Call) Result {
	sessionID := stringArg(call.Arguments, "sessionId")
	if sessionID == "" {
		sessionID = call.SessionID
	}
	detail, err := e.log.Load(ctx, call.AgentID, sessionID)
	if err != nil {
		return failResult(call.Tool, err)
	}
	return okResult(call.Tool, detail)
}

func (e *Executor) sessionStatus(ctx context.Context, call Call) Result {
	sessionID := stringArg(call.Arguments, "sessionId")
	if sessionID == "" {
		sessionID = call.SessionID
	}
	detail, err := e.log.Load(ctx, call.AgentID, sessionID)
	if err != nil {
		return failResult(call.Tool, err)
	}
	running, err := e.procs.CountRunning(ctx, sessionID)
	if err != nil {
		return failResult(call.Tool, err)
	}
	return okResult(call.Tool, sessionStatusData{
		Session:          detail.Summary,
		Stage:            DeriveStage(detail.Events),
		RunningProcesses: running,
	})
}

func (e *Executor) sendMessage(ctx context.Context, call Call) Result {
	if e.sessions == nil {
		return failResult(call.Tool, faults.New(faults.NotConfigured, "session operations are not bound"))
	}
	content := strings.TrimSpace(stringArg(call.Arguments, "content"))
	if content == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "content is required"))
	}
	sessionID := stringArg(call.Arguments, "sessionId")
	if sessionID == "" {
		sessionID = call.SessionID
	}
	userID := stringArg(call.Arguments, "userId")
	if userID == "" {
		userID = call.UserID
	}
	summary, err := e.sessions.SendMessage(ctx, call.AgentID, sessionID, content, userID)
	if err != nil {
		return failResult(call.Tool, err)
	}
	return okResult(call.Tool, summary)
}

func (e *Executor) listAgents(call Call) Result {
	summaries, err := e.catalog.List()
	if err != nil {
		return failResult(call.Tool, err)
	}
	entries := make([]agentEntry, 0, len(summaries))
	for _, s := range summaries {
		entries = append(entries, agentEntry{ID: s.ID, DisplayName: s.DisplayName, Role: s.Role})
	}
	return okResult(call.Tool, agentListData{Agents: entries})
}

// DeriveStage returns the stage of the latest runStatus event, or idle when
// the session has none.
func DeriveStage(evs []events.Event) events.Stage {
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == events.TypeRunStatus && evs[i].RunStatus != nil {
			return evs[i].RunStatus.Stage
		}
	}
	return events.StageIdle
}
