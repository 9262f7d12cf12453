package sink

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sessiond/internal/events"
)

const retryInterval = 5 * time.Second

// Sink consumes runtime events on a single goroutine and writes them to the
// relational store. Writes are best-effort: a failed event goes to the
// fallback buffer and is retried later.
type Sink struct {
	db *sql.DB
	in chan events.Event

	mu       sync.Mutex
	fallback []events.Event

	done chan struct{}
}

// NewSink starts the consumer over an open database.
func NewSink(db *sql.DB) *Sink {
	s := &Sink{
		db:   db,
		in:   make(chan events.Event, 512),
		done: make(chan struct{}),
	}
	go s.consume()
	return s
}

// Emit enqueues one event. Never blocks; when the queue is full the event
// goes straight to the fallback buffer.
func (s *Sink) Emit(ev events.Event) {
	select {
	case s.in <- ev:
	default:
		s.buffer(ev)
	}
}

// Close stops the consumer after draining the queue.
func (s *Sink) Close() {
	close(s.in)
	<-s.done
}

func (s *Sink) consume() {
	defer close(s.done)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-s.in:
			if !ok {
				s.retryFallback()
				return
			}
			s.write(ev)
		case <-ticker.C:
			s.retryFallback()
		}
	}
}

func (s *Sink) write(ev events.Event) {
	if err := s.insertEvent(ev); err != nil {
		slog.Warn("sink: event write failed, buffering", "event", ev.ID, "error", err)
		s.buffer(ev)
		return
	}
	s.deriveArtifacts(ev)
}

func (s *Sink) buffer(ev events.Event) {
	s.mu.Lock()
	s.fallback = append(s.fallback, ev)
	s.mu.Unlock()
}

func (s *Sink) retryFallback() {
	s.mu.Lock()
	pending := s.fallback
	s.fallback = nil
	s.mu.Unlock()
	for i, ev := range pending {
		if err := s.insertEvent(ev); err != nil {
			s.mu.Lock()
			s.fallback = append(s.fallback, pending[i:]...)
			s.mu.Unlock()
			return
		}
		s.deriveArtifacts(ev)
	}
}

func (s *Sink) insertEvent(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO events (id, agent_id, session_id, created_at, type, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.AgentID, ev.SessionID, ev.CreatedAt.UTC().Format(time.RFC3339Nano), string(ev.Type), string(payload),
	)
	return err
}

// deriveArtifacts records attachment references carried by message events.
func (s *Sink) deriveArtifacts(ev events.Event) {
	if ev.Type != events.TypeMessage || ev.Message == nil {
		return
	}
	for _, seg := range ev.Message.Segments {
		if seg.Type != "attachment" || seg.Attachment == nil {
			continue
		}
		a := seg.Attachment
		if _, err := s.db.Exec(
			`INSERT INTO artifacts (id, agent_id, session_id, name, mime_type, size_bytes, relative_path, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			a.ID, ev.AgentID, ev.SessionID, a.Name, a.MimeType, a.SizeBytes, a.RelativePath,
			ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			slog.Warn("sink: artifact write failed", "attachment", a.ID, "error", err)
		}
	}
}

// RecordTokenUsage notes model token consumption for one post.
func (s *Sink) RecordTokenUsage(agentID, sessionID, model string, promptTokens, completionTokens int64) {
	if _, err := s.db.Exec(
		`INSERT INTO token_usage (id, agent_id, session_id, model, prompt_tokens, completion_tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), agentID, sessionID, model, promptTokens, completionTokens,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		slog.Warn("sink: token usage write failed", "agent", agentID, "error", err)
	}
}

// PublishBulletin stores an agent memory bulletin.
func (s *Sink) PublishBulletin(agentID, content string) {
	if _, err := s.db.Exec(
		`INSERT INTO memory_bulletins (id, agent_id, content, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), agentID, content, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		slog.Warn("sink: bulletin write failed", "agent", agentID, "error", err)
	}
}

// Project is a dashboard project row.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateProject adds a dashboard project.
func (s *Sink) CreateProject(name string) (Project, error) {
	p := Project{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.db.Exec(
		`INSERT INTO dashboard_projects (id, name, created_at) VALUES ($1, $2, $3)`,
		p.ID, p.Name, p.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// ListProjects returns all dashboard projects, newest first.
func (s *Sink) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM dashboard_projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var p Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &created); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			p.CreatedAt = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LinkProjectChannel attaches a session channel to a project.
func (s *Sink) LinkProjectChannel(projectID, channelID string) error {
	_, err := s.db.Exec(
		`INSERT INTO dashboard_project_channels (id, project_id, channel_id, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), projectID, channelID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// CreateProjectTask adds a task under a project, optionally tied to a session.
func (s *Sink) CreateProjectTask(projectID, title, sessionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO dashboard_project_tasks (id, project_id, title, status, session_id, created_at)
		 VALUES ($1, $2, $3, 'open', $4, $5)`,
		uuid.NewString(), projectID, title, sessionID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}
