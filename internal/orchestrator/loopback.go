package orchestrator

import (
	"context"
	"sync"
)

// Loopback is an in-process ModelProvider that echoes prompts back in
// streamed chunks. It backs local development and tests; real deployments
// swap in an SDK-backed provider.
type Loopback struct {
	mu       sync.Mutex
	channels map[string][]ChannelMessage
	model    string

	// ChunkSize controls how many bytes each streamed chunk grows by.
	ChunkSize int
}

// NewLoopback returns an empty loopback provider.
func NewLoopback() *Loopback {
	return &Loopback{channels: make(map[string][]ChannelMessage), ChunkSize: 8}
}

// PostMessage records the user message and streams back an echo.
func (l *Loopback) PostMessage(ctx context.Context, channelID string, req PostRequest, onChunk ChunkFunc, onTool ToolFunc) (RouteDecision, error) {
	l.mu.Lock()
	l.channels[channelID] = append(l.channels[channelID], ChannelMessage{Role: "user", Content: req.Content})
	model := l.model
	step := l.ChunkSize
	l.mu.Unlock()
	if step <= 0 {
		step = 8
	}

	response := "Echo: " + req.Content
	for i := step; ; i += step {
		if i > len(response) {
			i = len(response)
		}
		if !onChunk(response[:i]) {
			return RouteDecision{Model: model, Reason: "loopback interrupted"}, nil
		}
		if i == len(response) {
			break
		}
		select {
		case <-ctx.Done():
			return RouteDecision{Model: model, Reason: "loopback cancelled"}, ctx.Err()
		default:
		}
	}

	l.mu.Lock()
	l.channels[channelID] = append(l.channels[channelID], ChannelMessage{Role: "assistant", Content: response})
	l.mu.Unlock()
	return RouteDecision{Model: model, Reason: "loopback"}, nil
}

// ChannelState returns a copy of the channel transcript.
func (l *Loopback) ChannelState(channelID string) (ChannelSnapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs, ok := l.channels[channelID]
	if !ok {
		return ChannelSnapshot{}, false
	}
	out := make([]ChannelMessage, len(msgs))
	copy(out, msgs)
	return ChannelSnapshot{Messages: out}, true
}

// AppendSystemMessage adds a system message to the channel.
func (l *Loopback) AppendSystemMessage(channelID, content string) error {
	l.mu.Lock()
	l.channels[channelID] = append(l.channels[channelID], ChannelMessage{Role: "system", Content: content})
	l.mu.Unlock()
	return nil
}

// UpdateModelProvider records the selected model name.
func (l *Loopback) UpdateModelProvider(model string) error {
	l.mu.Lock()
	l.model = model
	l.mu.Unlock()
	return nil
}
