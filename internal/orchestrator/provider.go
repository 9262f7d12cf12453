// Package orchestrator drives session runs: it persists every observable
// event through the event log, streams model output incrementally, and
// honors external pause/resume/interrupt signals.
package orchestrator

import (
	"context"

	"github.com/nextlevelbuilder/sessiond/internal/tools"
)

// BootstrapMarker tags the system message that carries session context, so
// bootstrap is idempotent across restarts.
const BootstrapMarker = "[agent_session_context_bootstrap_v1]"

// ChannelID addresses the model provider's conversational context for one
// session.
func ChannelID(agentID, sessionID string) string {
	return "agent:" + agentID + ":session:" + sessionID
}

// ChunkFunc receives the cumulative assistant text so far. Returning false
// tells the provider to stop streaming as soon as possible.
type ChunkFunc func(partial string) bool

// ToolFunc executes one tool request on the provider's behalf.
type ToolFunc func(req tools.Request) tools.Result

// PostRequest is the provider-facing slice of an incoming prompt.
type PostRequest struct {
	UserID  string
	Content string
}

// RouteDecision reports which model served a post.
type RouteDecision struct {
	Model  string `json:"model,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ChannelMessage is one message in a provider channel.
type ChannelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChannelSnapshot is the provider's view of a channel.
type ChannelSnapshot struct {
	Messages []ChannelMessage `json:"messages"`
}

// ModelProvider is the abstract LLM backend the orchestrator drives.
type ModelProvider interface {
	PostMessage(ctx context.Context, channelID string, req PostRequest, onChunk ChunkFunc, onTool ToolFunc) (RouteDecision, error)
	ChannelState(channelID string) (ChannelSnapshot, bool)
	AppendSystemMessage(channelID, content string) error
	UpdateModelProvider(model string) error
}
