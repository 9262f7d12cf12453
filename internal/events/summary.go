package events

import "time"

const previewLen = 120

// Summary is a derived view of a session. It is recomputed from the event
// log on every load and never stored as its own record.
type Summary struct {
	ID                 string    `json:"id"`
	AgentID            string    `json:"agentId"`
	Title              string    `json:"title"`
	ParentSessionID    string    `json:"parentSessionId,omitempty"`
	MessageCount       int       `json:"messageCount"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Detail bundles a summary with the full ordered event list.
type Detail struct {
	Summary Summary `json:"summary"`
	Events  []Event `json:"events"`
}

// Summarize derives the session summary from an ordered event list.
func Summarize(agentID, sessionID string, evs []Event) Summary {
	s := Summary{ID: sessionID, AgentID: agentID, Title: DefaultTitle(sessionID)}

	var lastMessage *MessagePayload
	for i := range evs {
		ev := &evs[i]
		if s.CreatedAt.IsZero() || ev.CreatedAt.Before(s.CreatedAt) {
			s.CreatedAt = ev.CreatedAt
		}
		if ev.CreatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = ev.CreatedAt
		}
		switch ev.Type {
		case TypeSessionCreated:
			if ev.SessionCreated != nil {
				if ev.SessionCreated.Title != "" {
					s.Title = ev.SessionCreated.Title
				}
				s.ParentSessionID = ev.SessionCreated.ParentSessionID
			}
		case TypeMessage:
			s.MessageCount++
			if ev.Message != nil {
				lastMessage = ev.Message
			}
		}
	}

	if lastMessage != nil {
		if text := lastMessage.FirstText(); text != "" {
			s.LastMessagePreview = truncateRunes(text, previewLen)
		}
	}
	return s
}
