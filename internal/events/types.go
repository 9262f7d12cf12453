// Package events defines the durable session event model and the append-only
// JSONL event log store. One file per session, one event per line; summaries
// are always derived from the log, never stored.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event kinds a session log can carry.
type Type string

const (
	TypeSessionCreated Type = "sessionCreated"
	TypeMessage        Type = "message"
	TypeRunStatus      Type = "runStatus"
	TypeRunControl     Type = "runControl"
	TypeSubSession     Type = "subSession"
	TypeToolCall       Type = "toolCall"
	TypeToolResult     Type = "toolResult"
)

// Stage enumerates run stages carried by runStatus events.
type Stage string

const (
	StageThinking    Stage = "thinking"
	StageSearching   Stage = "searching"
	StageResponding  Stage = "responding"
	StagePaused      Stage = "paused"
	StageInterrupted Stage = "interrupted"
	StageDone        Stage = "done"

	// StageIdle is never persisted; it is the derived default when a session
	// has no runStatus event yet.
	StageIdle Stage = "idle"
)

// Event is the unit of durability. Exactly one type-specific payload is set,
// matching Type.
type Event struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	Type      Type      `json:"type"`

	SessionCreated *SessionCreatedPayload `json:"sessionCreated,omitempty"`
	Message        *MessagePayload        `json:"message,omitempty"`
	RunStatus      *RunStatusPayload      `json:"runStatus,omitempty"`
	RunControl     *RunControlPayload     `json:"runControl,omitempty"`
	SubSession     *SubSessionPayload     `json:"subSession,omitempty"`
	ToolCall       *ToolCallPayload       `json:"toolCall,omitempty"`
	ToolResult     *ToolResultPayload     `json:"toolResult,omitempty"`
}

// SessionCreatedPayload is the first event of every session log.
type SessionCreatedPayload struct {
	Title           string `json:"title"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
}

// MessagePayload carries a user, assistant, or system message.
type MessagePayload struct {
	Role     string    `json:"role"` // "user", "assistant", "system"
	Segments []Segment `json:"segments"`
	UserID   string    `json:"userId,omitempty"`
}

// Segment is either text or an attachment reference.
type Segment struct {
	Type       string         `json:"type"` // "text" or "attachment"
	Text       string         `json:"text,omitempty"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment { return Segment{Type: "text", Text: text} }

// AttachmentRef points at a persisted attachment asset.
type AttachmentRef struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType,omitempty"`
	SizeBytes    int64  `json:"sizeBytes"`
	RelativePath string `json:"relativePath,omitempty"`
}

// RunStatusPayload reports the run stage of a session.
type RunStatusPayload struct {
	Stage        Stage  `json:"stage"`
	Label        string `json:"label,omitempty"`
	Details      string `json:"details,omitempty"`
	ExpandedText string `json:"expandedText,omitempty"`
}

// RunControlPayload records an external pause/resume/interrupt signal.
type RunControlPayload struct {
	Action string `json:"action"` // "pause", "resume", "interrupt"
	UserID string `json:"userId,omitempty"`
}

// SubSessionPayload links a parent session to a spawned child.
type SubSessionPayload struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title,omitempty"`
}

// ToolCallPayload is appended before a tool dispatch.
type ToolCallPayload struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// ErrorInfo mirrors the tool error surface inside persisted events.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ToolResultPayload is appended after a tool returns.
type ToolResultPayload struct {
	Tool       string          `json:"tool"`
	OK         bool            `json:"ok"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// New builds an event with a fresh id and the current UTC wall clock.
func New(agentID, sessionID string, typ Type) Event {
	return Event{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Type:      typ,
	}
}

// NewRunStatus builds a runStatus event.
func NewRunStatus(agentID, sessionID string, stage Stage, label, details string) Event {
	ev := New(agentID, sessionID, TypeRunStatus)
	ev.RunStatus = &RunStatusPayload{Stage: stage, Label: label, Details: details}
	return ev
}

// NewMessage builds a message event with a single text segment.
func NewMessage(agentID, sessionID, role, text, userID string) Event {
	ev := New(agentID, sessionID, TypeMessage)
	ev.Message = &MessagePayload{
		Role:     role,
		Segments: []Segment{TextSegment(text)},
		UserID:   userID,
	}
	return ev
}

// FirstText returns the first non-empty text segment of a message payload.
func (m *MessagePayload) FirstText() string {
	for _, seg := range m.Segments {
		if seg.Type == "text" && strings.TrimSpace(seg.Text) != "" {
			return seg.Text
		}
	}
	return ""
}
