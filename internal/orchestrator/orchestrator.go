package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/sessiond/internal/actor"
	"github.com/nextlevelbuilder/sessiond/internal/agents"
	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/procs"
	"github.com/nextlevelbuilder/sessiond/internal/tools"
)

// searchingKeywords trigger the searching run stage when they appear in a
// prompt.
var searchingKeywords = []string{
	"search", "find", "google", "lookup", "research",
	"найди", "поиск", "исследуй",
}

// EventSink receives every event the orchestrator persists. Implementations
// must not block.
type EventSink interface {
	Emit(ev events.Event)
}

// Options tune the streaming progress throttle.
type Options struct {
	ProgressChars    int           // new characters since last persist
	ProgressInterval time.Duration // wall time since last persist
}

// DefaultOptions matches the stock throttle.
func DefaultOptions() Options {
	return Options{ProgressChars: 24, ProgressInterval: 350 * time.Millisecond}
}

// Orchestrator serializes runs per session and owns the in-flight run state.
type Orchestrator struct {
	catalog  *agents.Catalog
	log      *events.Log
	exec     *tools.Executor
	registry *procs.Registry
	provider ModelProvider
	sink     EventSink
	opts     Options
	tracer   trace.Tracer

	mu     sync.Mutex
	boxes  map[string]*actor.Mailbox // sessionID → run mailbox
	states map[string]*runState      // channelID → run state
}

// New wires an orchestrator. sink may be nil.
func New(catalog *agents.Catalog, log *events.Log, exec *tools.Executor, registry *procs.Registry, provider ModelProvider, sink EventSink, opts Options) *Orchestrator {
	if opts.ProgressChars <= 0 || opts.ProgressInterval <= 0 {
		opts = DefaultOptions()
	}
	o := &Orchestrator{
		catalog:  catalog,
		log:      log,
		exec:     exec,
		registry: registry,
		provider: provider,
		sink:     sink,
		opts:     opts,
		tracer:   otel.Tracer("sessiond/orchestrator"),
		boxes:    make(map[string]*actor.Mailbox),
		states:   make(map[string]*runState),
	}
	exec.BindSessions(o)
	return o
}

func (o *Orchestrator) box(sessionID string) *actor.Mailbox {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.boxes[sessionID]
	if !ok {
		b = actor.NewMailbox(16)
		o.boxes[sessionID] = b
	}
	return b
}

func (o *Orchestrator) state(channelID string) *runState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[channelID]
	if !ok {
		s = &runState{}
		o.states[channelID] = s
	}
	return s
}

// CreateSessionRequest names a new session.
type CreateSessionRequest struct {
	SessionID       string `json:"sessionId,omitempty"`
	Title           string `json:"title,omitempty"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
}

// CreateSession creates the session log and bootstraps its channel. A failed
// bootstrap rolls the new session back.
func (o *Orchestrator) CreateSession(ctx context.Context, agentID string, req CreateSessionRequest) (events.Summary, error) {
	if !events.ValidAgentID(agentID) {
		return events.Summary{}, faults.New(faults.InvalidAgentID, "invalid agent id %q", agentID)
	}
	if !o.catalog.Exists(agentID) {
		return events.Summary{}, faults.New(faults.AgentNotFound, "agent %q not found", agentID)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = events.NewSessionID()
	}
	if !events.ValidSessionID(sessionID) {
		return events.Summary{}, faults.New(faults.InvalidSessionID, "invalid session id %q", sessionID)
	}
	if req.ParentSessionID != "" {
		if req.ParentSessionID == sessionID {
			return events.Summary{}, faults.New(faults.InvalidPayload, "session cannot be its own parent")
		}
		if _, err := o.log.Load(ctx, agentID, req.ParentSessionID); err != nil {
			return events.Summary{}, err
		}
	}
	title := events.ClampTitle(strings.TrimSpace(req.Title))
	if title == "" {
		title = events.DefaultTitle(sessionID)
	}

	first := events.New(agentID, sessionID, events.TypeSessionCreated)
	first.SessionCreated = &events.SessionCreatedPayload{Title: title, ParentSessionID: req.ParentSessionID}
	summary, err := o.log.Create(ctx, agentID, first)
	if err != nil {
		return events.Summary{}, err
	}
	o.emit(first)

	if err := o.EnsureBootstrap(ctx, agentID, sessionID); err != nil {
		if derr := o.log.Delete(ctx, agentID, sessionID); derr != nil {
			slog.Warn("orchestrator: rollback delete failed", "session", sessionID, "error", derr)
		}
		return events.Summary{}, faults.Wrap(faults.StorageFailure, err)
	}
	return summary, nil
}

// EnsureBootstrap appends the context system message to the session channel
// exactly once: calling it again is a no-op while the marker is present.
func (o *Orchestrator) EnsureBootstrap(ctx context.Context, agentID, sessionID string) error {
	channelID := ChannelID(agentID, sessionID)
	if snap, ok := o.provider.ChannelState(channelID); ok {
		for _, msg := range snap.Messages {
			if msg.Role == "system" && strings.Contains(msg.Content, BootstrapMarker) {
				return nil
			}
		}
	}
	bundle, err := o.catalog.Docs(agentID)
	if err != nil {
		return err
	}
	content := strings.Join([]string{
		BootstrapMarker, bundle.User, bundle.Agents, bundle.Soul, bundle.Identity,
	}, "\n")
	return o.provider.AppendSystemMessage(channelID, content)
}

// PostMessageRequest is an incoming prompt.
type PostMessageRequest struct {
	UserID          string                    `json:"userId,omitempty"`
	Content         string                    `json:"content,omitempty"`
	Attachments     []events.AttachmentUpload `json:"attachments,omitempty"`
	SpawnSubSession bool                      `json:"spawnSubSession,omitempty"`
}

// PostResult reports the outcome of one post.
type PostResult struct {
	Summary  events.Summary `json:"summary"`
	Appended []events.Event `json:"appendedEvents"`
	Route    RouteDecision  `json:"routeDecision"`
}

// PostMessage runs one prompt through the model provider. Two posts for the
// same session never interleave; posts for different sessions proceed in
// parallel.
func (o *Orchestrator) PostMessage(ctx context.Context, agentID, sessionID string, req PostMessageRequest) (PostResult, error) {
	var res PostResult
	var opErr error
	err := o.box(sessionID).Do(ctx, func() {
		res, opErr = o.postMessage(ctx, agentID, sessionID, req)
	})
	if err != nil {
		return PostResult{}, err
	}
	return res, opErr
}

func (o *Orchestrator) postMessage(ctx context.Context, agentID, sessionID string, req PostMessageRequest) (PostResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.postMessage", trace.WithAttributes(
		attribute.String("agent", agentID),
		attribute.String("session", sessionID),
	))
	defer span.End()

	if err := o.EnsureBootstrap(ctx, agentID, sessionID); err != nil {
		return PostResult{}, err
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Attachments) == 0 {
		return PostResult{}, faults.New(faults.InvalidPayload, "content or attachments required")
	}

	refs, err := o.log.PersistAttachments(ctx, agentID, sessionID, req.Attachments)
	if err != nil {
		return PostResult{}, err
	}

	var appended []events.Event

	userMsg := events.New(agentID, sessionID, events.TypeMessage)
	userMsg.Message = &events.MessagePayload{Role: "user", UserID: req.UserID}
	if content != "" {
		userMsg.Message.Segments = append(userMsg.Message.Segments, events.TextSegment(content))
	}
	for i := range refs {
		ref := refs[i]
		userMsg.Message.Segments = append(userMsg.Message.Segments, events.Segment{Type: "attachment", Attachment: &ref})
	}

	batch := []events.Event{
		userMsg,
		events.NewRunStatus(agentID, sessionID, events.StageThinking, "", ""),
	}
	if wantsSearch(content, len(refs) > 0) {
		batch = append(batch, events.NewRunStatus(agentID, sessionID, events.StageSearching, "", ""))
	}
	batch = append(batch, events.NewRunStatus(agentID, sessionID, events.StageResponding, "", ""))
	summary, err := o.appendAndEmit(ctx, agentID, sessionID, batch, &appended)
	if err != nil {
		return PostResult{}, err
	}

	channelID := ChannelID(agentID, sessionID)
	state := o.state(channelID)
	state.reset()

	providerContent := content
	if providerContent == "" {
		providerContent = "[attachments]"
	}

	onChunk := func(partial string) bool {
		// An interrupted run rejects the chunk outright; the buffer keeps
		// the last accepted text.
		if state.interrupted.Load() {
			return false
		}
		partial = strings.ReplaceAll(partial, "\r\n", "\n")
		due := state.store(partial, o.opts.ProgressChars, o.opts.ProgressInterval)
		if due {
			ev := events.New(agentID, sessionID, events.TypeRunStatus)
			ev.RunStatus = &events.RunStatusPayload{Stage: events.StageResponding, ExpandedText: partial}
			if _, aerr := o.appendAndEmit(ctx, agentID, sessionID, []events.Event{ev}, &appended); aerr != nil {
				slog.Warn("orchestrator: progress persist failed", "session", sessionID, "error", aerr)
			}
		}
		return true
	}
	onTool := func(treq tools.Request) tools.Result {
		return o.exec.Invoke(ctx, tools.Call{
			Request:   treq,
			AgentID:   agentID,
			SessionID: sessionID,
			UserID:    req.UserID,
		})
	}

	route, perr := o.provider.PostMessage(ctx, channelID, PostRequest{UserID: req.UserID, Content: providerContent}, onChunk, onTool)
	if perr != nil {
		slog.Warn("orchestrator: provider failed", "session", sessionID, "error", perr)
	}

	assistantText := strings.TrimSpace(state.text())
	if assistantText == "" {
		assistantText = o.lastSystemText(channelID)
	}
	if assistantText == "" {
		assistantText = "Done."
	}

	if req.SpawnSubSession {
		title := "Sub-session " + time.Now().Format("15:04")
		child, serr := o.CreateSession(ctx, agentID, CreateSessionRequest{Title: title, ParentSessionID: sessionID})
		if serr != nil {
			slog.Warn("orchestrator: sub-session spawn failed", "session", sessionID, "error", serr)
		} else {
			ev := events.New(agentID, sessionID, events.TypeSubSession)
			ev.SubSession = &events.SubSessionPayload{SessionID: child.ID, Title: child.Title}
			if summary, err = o.appendAndEmit(ctx, agentID, sessionID, []events.Event{ev}, &appended); err != nil {
				return PostResult{}, err
			}
		}
	}

	final := []events.Event{
		events.NewMessage(agentID, sessionID, "assistant", assistantText, "agent"),
	}
	switch {
	case state.interrupted.Load():
		final = append(final, events.NewRunStatus(agentID, sessionID, events.StageInterrupted, "", ""))
	case looksLikeError(assistantText):
		final = append(final, events.NewRunStatus(agentID, sessionID, events.StageInterrupted, "Error", ""))
	default:
		final = append(final, events.NewRunStatus(agentID, sessionID, events.StageDone, "", ""))
	}
	summary, err = o.appendAndEmit(ctx, agentID, sessionID, final, &appended)
	if err != nil {
		return PostResult{}, err
	}
	return PostResult{Summary: summary, Appended: appended, Route: route}, nil
}

// ControlSession records an external pause/resume/interrupt signal. The
// interrupt flag takes effect on the next chunk of an in-flight post.
func (o *Orchestrator) ControlSession(ctx context.Context, agentID, sessionID, action, userID string) (events.Summary, error) {
	control := events.New(agentID, sessionID, events.TypeRunControl)
	control.RunControl = &events.RunControlPayload{Action: action, UserID: userID}

	var status events.Event
	switch action {
	case "pause":
		status = events.NewRunStatus(agentID, sessionID, events.StagePaused, "", "")
	case "resume":
		status = events.NewRunStatus(agentID, sessionID, events.StageThinking, "Resumed", "")
	case "interrupt":
		o.state(ChannelID(agentID, sessionID)).interrupted.Store(true)
		status = events.NewRunStatus(agentID, sessionID, events.StageInterrupted, "", "")
	default:
		return events.Summary{}, faults.New(faults.InvalidPayload, "unknown control action %q", action)
	}
	var appended []events.Event
	return o.appendAndEmit(ctx, agentID, sessionID, []events.Event{control, status}, &appended)
}

// DeleteSession removes the session log, its processes, and in-memory state.
func (o *Orchestrator) DeleteSession(ctx context.Context, agentID, sessionID string) error {
	if err := o.log.Delete(ctx, agentID, sessionID); err != nil {
		return err
	}
	if err := o.registry.Cleanup(ctx, sessionID); err != nil {
		slog.Warn("orchestrator: process cleanup failed", "session", sessionID, "error", err)
	}
	o.exec.ForgetSession(sessionID)
	o.mu.Lock()
	b := o.boxes[sessionID]
	delete(o.boxes, sessionID)
	delete(o.states, ChannelID(agentID, sessionID))
	o.mu.Unlock()
	// Close waits for an in-flight run to drain, and that run takes o.mu for
	// its own state lookups; closing outside the lock keeps other sessions
	// responsive and cannot deadlock against the run.
	if b != nil {
		b.Close()
	}
	return nil
}

// SpawnSession creates a child session and links it from the parent.
// Implements the session tools' callback surface.
func (o *Orchestrator) SpawnSession(ctx context.Context, agentID, title, parentSessionID string) (events.Summary, error) {
	child, err := o.CreateSession(ctx, agentID, CreateSessionRequest{Title: title, ParentSessionID: parentSessionID})
	if err != nil {
		return events.Summary{}, err
	}
	if parentSessionID != "" {
		ev := events.New(agentID, parentSessionID, events.TypeSubSession)
		ev.SubSession = &events.SubSessionPayload{SessionID: child.ID, Title: child.Title}
		var appended []events.Event
		if _, aerr := o.appendAndEmit(ctx, agentID, parentSessionID, []events.Event{ev}, &appended); aerr != nil {
			slog.Warn("orchestrator: sub-session link failed", "parent", parentSessionID, "error", aerr)
		}
	}
	return child, nil
}

// SendMessage posts content into another session's channel on behalf of a
// tool call and records the exchange as one batch.
func (o *Orchestrator) SendMessage(ctx context.Context, agentID, sessionID, content, userID string) (events.Summary, error) {
	if _, err := o.log.Load(ctx, agentID, sessionID); err != nil {
		return events.Summary{}, err
	}
	if err := o.EnsureBootstrap(ctx, agentID, sessionID); err != nil {
		return events.Summary{}, err
	}

	channelID := ChannelID(agentID, sessionID)
	var last string
	onChunk := func(partial string) bool {
		last = strings.ReplaceAll(partial, "\r\n", "\n")
		return true
	}
	onTool := func(treq tools.Request) tools.Result {
		return o.exec.Invoke(ctx, tools.Call{Request: treq, AgentID: agentID, SessionID: sessionID, UserID: userID})
	}
	if _, err := o.provider.PostMessage(ctx, channelID, PostRequest{UserID: userID, Content: content}, onChunk, onTool); err != nil {
		slog.Warn("orchestrator: provider failed on send", "session", sessionID, "error", err)
	}
	assistantText := strings.TrimSpace(last)
	if assistantText == "" {
		assistantText = "Done."
	}

	batch := []events.Event{
		events.NewMessage(agentID, sessionID, "user", content, userID),
		events.NewMessage(agentID, sessionID, "assistant", assistantText, "agent"),
		events.NewRunStatus(agentID, sessionID, events.StageDone, "", ""),
	}
	var appended []events.Event
	return o.appendAndEmit(ctx, agentID, sessionID, batch, &appended)
}

// SelectModel records the agent's model and repoints the provider.
func (o *Orchestrator) SelectModel(agentID, model string) (agents.Summary, error) {
	summary, err := o.catalog.UpdateSelectedModel(agentID, model)
	if err != nil {
		return agents.Summary{}, err
	}
	if err := o.provider.UpdateModelProvider(model); err != nil {
		slog.Warn("orchestrator: provider model update failed", "model", model, "error", err)
	}
	return summary, nil
}

func (o *Orchestrator) appendAndEmit(ctx context.Context, agentID, sessionID string, batch []events.Event, appended *[]events.Event) (events.Summary, error) {
	summary, err := o.log.Append(ctx, agentID, sessionID, batch)
	if err != nil {
		return events.Summary{}, err
	}
	*appended = append(*appended, batch...)
	for i := range batch {
		o.emit(batch[i])
	}
	return summary, nil
}

func (o *Orchestrator) emit(ev events.Event) {
	if o.sink != nil {
		o.sink.Emit(ev)
	}
}

func (o *Orchestrator) lastSystemText(channelID string) string {
	snap, ok := o.provider.ChannelState(channelID)
	if !ok {
		return ""
	}
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		msg := snap.Messages[i]
		if msg.Role == "system" && !strings.Contains(msg.Content, BootstrapMarker) {
			return strings.TrimSpace(msg.Content)
		}
	}
	return ""
}

func wantsSearch(content string, hasAttachments bool) bool {
	if hasAttachments {
		return true
	}
	lower := strings.ToLower(content)
	for _, kw := range searchingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func looksLikeError(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "model provider error:") ||
		strings.HasPrefix(lower, "error:") ||
		strings.Contains(lower, " failed") ||
		strings.Contains(lower, "exception")
}
