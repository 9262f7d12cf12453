package events

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sessiond/internal/actor"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// Log is the append-only session event store. All file access is serialized
// through a single mailbox, so appends for one host are strictly ordered and
// the files are never touched from two goroutines at once.
type Log struct {
	box  *actor.Mailbox
	root string // agents root; read and written only on the mailbox goroutine
}

// NewLog creates a store rooted at agentsRoot (<workspace>/agents).
func NewLog(agentsRoot string) *Log {
	return &Log{box: actor.NewMailbox(256), root: agentsRoot}
}

// Close drains pending operations and stops the store.
func (l *Log) Close() { l.box.Close() }

// UpdateAgentsRoot repoints the store at a new agents root.
func (l *Log) UpdateAgentsRoot(root string) {
	// Submit rather than Do: root updates are fire-and-forget and ordered
	// with respect to every other operation.
	_ = l.box.Submit(func() { l.root = root })
}

func (l *Log) agentDir(agentID string) string {
	return filepath.Join(l.root, agentID)
}

func (l *Log) sessionsDir(agentID string) string {
	return filepath.Join(l.root, agentID, "sessions")
}

func (l *Log) sessionFile(agentID, sessionID string) string {
	return filepath.Join(l.sessionsDir(agentID), sessionID+".jsonl")
}

func (l *Log) assetsDir(agentID, sessionID string) string {
	return filepath.Join(l.sessionsDir(agentID), sessionID+".assets")
}

// Create writes the first line of a new session log. The agent directory
// must already exist; the session file must not.
func (l *Log) Create(ctx context.Context, agentID string, first Event) (Summary, error) {
	var summary Summary
	var opErr error
	err := l.box.Do(ctx, func() {
		if first.Type != TypeSessionCreated || first.SessionCreated == nil {
			opErr = faults.New(faults.InvalidPayload, "first event must be sessionCreated")
			return
		}
		if _, err := os.Stat(l.agentDir(agentID)); err != nil {
			opErr = faults.New(faults.AgentNotFound, "agent %q not found", agentID)
			return
		}
		if err := os.MkdirAll(l.sessionsDir(agentID), 0o755); err != nil {
			opErr = faults.Wrap(faults.StorageFailure, err)
			return
		}
		path := l.sessionFile(agentID, first.SessionID)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				opErr = faults.New(faults.AlreadyExists, "session %q already exists", first.SessionID)
			} else {
				opErr = faults.Wrap(faults.StorageFailure, err)
			}
			return
		}
		defer f.Close()
		if err := writeEventLine(f, first); err != nil {
			opErr = faults.Wrap(faults.StorageFailure, err)
			return
		}
		summary = Summarize(agentID, first.SessionID, []Event{first})
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, opErr
}

// Append adds events to an existing session log and returns the recomputed
// summary. It never creates the file.
func (l *Log) Append(ctx context.Context, agentID, sessionID string, evs []Event) (Summary, error) {
	var summary Summary
	var opErr error
	err := l.box.Do(ctx, func() {
		if len(evs) == 0 {
			opErr = faults.New(faults.InvalidPayload, "empty event batch")
			return
		}
		path := l.sessionFile(agentID, sessionID)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			if os.IsNotExist(err) {
				opErr = faults.New(faults.SessionNotFound, "session %q not found", sessionID)
			} else {
				opErr = faults.Wrap(faults.StorageFailure, err)
			}
			return
		}
		defer f.Close()
		for i := range evs {
			if err := writeEventLine(f, evs[i]); err != nil {
				// Earlier lines are complete; the log stays well-formed.
				opErr = faults.Wrap(faults.StorageFailure, err)
				return
			}
		}
		all, err := l.readAll(agentID, sessionID)
		if err != nil {
			opErr = err
			return
		}
		summary = Summarize(agentID, sessionID, all)
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, opErr
}

// Load reads the full session log, sorted by createdAt.
func (l *Log) Load(ctx context.Context, agentID, sessionID string) (Detail, error) {
	var detail Detail
	var opErr error
	err := l.box.Do(ctx, func() {
		evs, err := l.readAll(agentID, sessionID)
		if err != nil {
			opErr = err
			return
		}
		detail = Detail{Summary: Summarize(agentID, sessionID, evs), Events: evs}
	})
	if err != nil {
		return Detail{}, err
	}
	return detail, opErr
}

// Delete removes the session file and its assets directory. Asset removal
// is idempotent; a missing session file is sessionNotFound.
func (l *Log) Delete(ctx context.Context, agentID, sessionID string) error {
	var opErr error
	err := l.box.Do(ctx, func() {
		if err := os.Remove(l.sessionFile(agentID, sessionID)); err != nil {
			if os.IsNotExist(err) {
				opErr = faults.New(faults.SessionNotFound, "session %q not found", sessionID)
			} else {
				opErr = faults.Wrap(faults.StorageFailure, err)
			}
		}
		if err := os.RemoveAll(l.assetsDir(agentID, sessionID)); err != nil {
			slog.Warn("events: failed to remove assets dir", "session", sessionID, "error", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// ListSessions returns summaries for every session of an agent, newest first.
func (l *Log) ListSessions(ctx context.Context, agentID string) ([]Summary, error) {
	var out []Summary
	var opErr error
	err := l.box.Do(ctx, func() {
		if _, err := os.Stat(l.agentDir(agentID)); err != nil {
			opErr = faults.New(faults.AgentNotFound, "agent %q not found", agentID)
			return
		}
		entries, err := os.ReadDir(l.sessionsDir(agentID))
		if err != nil {
			if os.IsNotExist(err) {
				return // no sessions yet
			}
			opErr = faults.Wrap(faults.StorageFailure, err)
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			sessionID := strings.TrimSuffix(name, ".jsonl")
			evs, err := l.readAll(agentID, sessionID)
			if err != nil {
				slog.Warn("events: skipping unreadable session", "session", sessionID, "error", err)
				continue
			}
			out = append(out, Summarize(agentID, sessionID, evs))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// AttachmentUpload is an incoming attachment; Data is base64.
type AttachmentUpload struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// PersistAttachments decodes and writes uploads into the session's assets
// directory. Uploads with empty content produce metadata-only refs without
// a relative path.
func (l *Log) PersistAttachments(ctx context.Context, agentID, sessionID string, uploads []AttachmentUpload) ([]AttachmentRef, error) {
	var refs []AttachmentRef
	var opErr error
	err := l.box.Do(ctx, func() {
		for _, up := range uploads {
			id := up.ID
			if id == "" {
				id = uuid.NewString()
			}
			ref := AttachmentRef{ID: id, Name: up.Name, MimeType: up.MimeType}
			if up.Data == "" {
				refs = append(refs, ref)
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(up.Data)
			if err != nil {
				opErr = faults.New(faults.InvalidPayload, "attachment %q: invalid base64", up.Name)
				return
			}
			dir := l.assetsDir(agentID, sessionID)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				opErr = faults.Wrap(faults.StorageFailure, err)
				return
			}
			filename := id + "-" + SanitizeFilename(up.Name)
			if err := os.WriteFile(filepath.Join(dir, filename), payload, 0o644); err != nil {
				opErr = faults.Wrap(faults.StorageFailure, err)
				return
			}
			ref.SizeBytes = int64(len(payload))
			ref.RelativePath = filepath.Join(sessionID+".assets", filename)
			refs = append(refs, ref)
		}
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return refs, nil
}

// readAll runs on the mailbox goroutine.
func (l *Log) readAll(agentID, sessionID string) ([]Event, error) {
	f, err := os.Open(l.sessionFile(agentID, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.New(faults.SessionNotFound, "session %q not found", sessionID)
		}
		return nil, faults.Wrap(faults.StorageFailure, err)
	}
	defer f.Close()

	var evs []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// Tolerant read: a torn or corrupt line never hides the rest.
			slog.Warn("events: skipping unparsable line", "session", sessionID, "error", err)
			continue
		}
		evs = append(evs, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, faults.Wrap(faults.StorageFailure, err)
	}
	if len(evs) == 0 {
		return nil, faults.New(faults.SessionNotFound, "session %q has no events", sessionID)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].CreatedAt.Before(evs[j].CreatedAt) })
	return evs, nil
}

// writeEventLine marshals the event and issues a single write for the whole
// line, newline included, so a failed write never leaves a partial prefix of
// one event followed by another.
func writeEventLine(f *os.File, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}
