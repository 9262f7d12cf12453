package events

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a1"), 0o755); err != nil {
		t.Fatal(err)
	}
	l := NewLog(root)
	t.Cleanup(l.Close)
	return l, root
}

func sessionCreated(agentID, sessionID, title string) Event {
	ev := New(agentID, sessionID, TypeSessionCreated)
	ev.SessionCreated = &SessionCreatedPayload{Title: title}
	return ev
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	first := sessionCreated("a1", "s1", "T")
	summary, err := l.Create(ctx, "a1", first)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if summary.Title != "T" || summary.ID != "s1" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if _, err := l.Append(ctx, "a1", "s1", []Event{
		NewMessage("a1", "s1", "user", "hello", "u"),
		NewMessage("a1", "s1", "assistant", "world", "agent"),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	detail, err := l.Load(ctx, "a1", "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := detail.Summary.MessageCount; got != 2 {
		t.Errorf("messageCount = %d, want 2", got)
	}
	if got := detail.Summary.LastMessagePreview; got != "world" {
		t.Errorf("preview = %q, want %q", got, "world")
	}
	if detail.Events[0].Type != TypeSessionCreated {
		t.Errorf("first event type = %s, want sessionCreated", detail.Events[0].Type)
	}
	for i := 1; i < len(detail.Events); i++ {
		if detail.Events[i].CreatedAt.Before(detail.Events[i-1].CreatedAt) {
			t.Errorf("events out of order at %d", i)
		}
	}
}

func TestSummaryPreviewKeepsRunesIntact(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	if _, err := l.Create(ctx, "a1", sessionCreated("a1", "s1", "T")); err != nil {
		t.Fatal(err)
	}
	// The odd byte offset puts a naive 120-byte cut inside a Cyrillic rune.
	text := "x" + strings.Repeat("ы", 200)
	if _, err := l.Append(ctx, "a1", "s1", []Event{NewMessage("a1", "s1", "user", text, "u")}); err != nil {
		t.Fatal(err)
	}

	detail, err := l.Load(ctx, "a1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	preview := detail.Summary.LastMessagePreview
	if !utf8.ValidString(preview) {
		t.Errorf("preview is not valid UTF-8: %q", preview)
	}
	if n := utf8.RuneCountInString(preview); n != 120 {
		t.Errorf("preview rune count = %d, want 120", n)
	}
}

func TestCreateErrors(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		agentID  string
		first    Event
		wantCode string
	}{
		{"missing agent", "ghost", sessionCreated("ghost", "s1", "T"), faults.AgentNotFound},
		{"wrong first event", "a1", NewMessage("a1", "s1", "user", "x", "u"), faults.InvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Create(ctx, tt.agentID, tt.first)
			if faults.Code(err) != tt.wantCode {
				t.Errorf("Create error = %v, want code %s", err, tt.wantCode)
			}
		})
	}

	if _, err := l.Create(ctx, "a1", sessionCreated("a1", "dup", "T")); err != nil {
		t.Fatal(err)
	}
	_, err := l.Create(ctx, "a1", sessionCreated("a1", "dup", "T"))
	if !faults.Is(err, faults.AlreadyExists) {
		t.Errorf("duplicate create = %v, want already_exists", err)
	}
}

func TestAppendNeverCreates(t *testing.T) {
	l, root := newTestLog(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "a1", "nope", []Event{NewMessage("a1", "nope", "user", "x", "u")})
	if !faults.Is(err, faults.SessionNotFound) {
		t.Fatalf("append to missing session = %v, want session_not_found", err)
	}
	if _, serr := os.Stat(filepath.Join(root, "a1", "sessions", "nope.jsonl")); !os.IsNotExist(serr) {
		t.Error("append created a session file")
	}
}

func TestLoadTolerantParse(t *testing.T) {
	l, root := newTestLog(t)
	ctx := context.Background()

	if _, err := l.Create(ctx, "a1", sessionCreated("a1", "s1", "T")); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "a1", "sessions", "s1.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{torn line\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := l.Append(ctx, "a1", "s1", []Event{NewMessage("a1", "s1", "user", "after", "u")}); err != nil {
		t.Fatal(err)
	}

	detail, err := l.Load(ctx, "a1", "s1")
	if err != nil {
		t.Fatalf("Load with corrupt line: %v", err)
	}
	if len(detail.Events) != 2 {
		t.Errorf("got %d events, want 2 (corrupt line skipped)", len(detail.Events))
	}
}

func TestDeleteRemovesFileAndAssets(t *testing.T) {
	l, root := newTestLog(t)
	ctx := context.Background()

	if _, err := l.Create(ctx, "a1", sessionCreated("a1", "s1", "T")); err != nil {
		t.Fatal(err)
	}
	refs, err := l.PersistAttachments(ctx, "a1", "s1", []AttachmentUpload{
		{Name: "notes.txt", Data: base64.StdEncoding.EncodeToString([]byte("hi"))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if refs[0].SizeBytes != 2 || refs[0].RelativePath == "" {
		t.Fatalf("unexpected ref %+v", refs[0])
	}

	if err := l.Delete(ctx, "a1", "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a1", "sessions", "s1.assets")); !os.IsNotExist(err) {
		t.Error("assets directory survived delete")
	}
	if err := l.Delete(ctx, "a1", "s1"); !faults.Is(err, faults.SessionNotFound) {
		t.Errorf("second delete = %v, want session_not_found", err)
	}
}

func TestPersistAttachmentsMetadataOnly(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	if _, err := l.Create(ctx, "a1", sessionCreated("a1", "s1", "T")); err != nil {
		t.Fatal(err)
	}
	refs, err := l.PersistAttachments(ctx, "a1", "s1", []AttachmentUpload{{Name: "empty.bin"}})
	if err != nil {
		t.Fatal(err)
	}
	if refs[0].RelativePath != "" {
		t.Errorf("metadata-only upload got a relative path %q", refs[0].RelativePath)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	if _, err := l.Create(ctx, "a1", sessionCreated("a1", "old", "Old")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := l.Create(ctx, "a1", sessionCreated("a1", "new", "New")); err != nil {
		t.Fatal(err)
	}

	list, err := l.ListSessions(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("unexpected order: %+v", list)
	}
}
