package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

func boolPtr(b bool) *bool { return &b }

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
		ok     bool
	}{
		{"default is valid", func(p *Policy) {}, true},
		{"bad version", func(p *Policy) { p.Version = 2 }, false},
		{"bad default policy", func(p *Policy) { p.DefaultPolicy = "maybe" }, false},
		{"unknown tool", func(p *Policy) { p.Tools["teleport"] = ToolSpec{} }, false},
		{"zero guardrail", func(p *Policy) { p.Guardrails.ExecTimeoutMs = 0 }, false},
		{"negative guardrail", func(p *Policy) { p.Guardrails.MaxReadBytes = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !faults.Is(err, faults.InvalidPayload) {
				t.Errorf("Validate() = %v, want invalid_payload", err)
			}
		})
	}
}

func TestAllows(t *testing.T) {
	tests := []struct {
		name          string
		defaultPolicy string
		spec          *ToolSpec
		want          bool
	}{
		{"default allow, no override", "allow", nil, true},
		{"default deny, no override", "deny", nil, false},
		{"default deny, explicit allow", "deny", &ToolSpec{Allow: boolPtr(true)}, true},
		{"default allow, explicit deny", "allow", &ToolSpec{Allow: boolPtr(false)}, false},
		{"nil allow defers to default", "deny", &ToolSpec{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			p.DefaultPolicy = tt.defaultPolicy
			if tt.spec != nil {
				p.Tools["files.read"] = *tt.spec
			}
			if got := p.Allows("files.read"); got != tt.want {
				t.Errorf("Allows = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a1", "tools"), 0o755); err != nil {
		t.Fatal(err)
	}
	s := NewStore(root)
	t.Cleanup(s.Close)
	return s, root
}

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	s, root := newTestStore(t)

	p, err := s.Load("a1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.DefaultPolicy != "allow" || p.Version != PolicyVersion {
		t.Errorf("unexpected default %+v", p)
	}
	if _, err := os.Stat(filepath.Join(root, "a1", "tools", "tools.json")); err != nil {
		t.Errorf("default policy not written back: %v", err)
	}
}

func TestLoadMissingAgent(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load("ghost")
	if !faults.Is(err, faults.AgentNotFound) {
		t.Errorf("Load(ghost) = %v, want agent_not_found", err)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	s, root := newTestStore(t)
	path := filepath.Join(root, "a1", "tools", "tools.json")

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("a1"); !faults.Is(err, faults.InvalidPayload) {
		t.Errorf("malformed load = %v, want invalid_payload", err)
	}

	bad := Default()
	bad.Version = 9
	data, _ := json.Marshal(bad)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("a1"); !faults.Is(err, faults.InvalidPayload) {
		t.Errorf("invalid-version load = %v, want invalid_payload", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	p := Default()
	p.DefaultPolicy = "deny"
	p.Tools["files.read"] = ToolSpec{Allow: boolPtr(true)}
	if err := s.Save("a1", p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultPolicy != "deny" {
		t.Errorf("defaultPolicy = %q", got.DefaultPolicy)
	}
	if !got.Allows("files.read") || got.Allows("runtime.exec") {
		t.Error("per-tool override did not survive the round trip")
	}

	bad := Default()
	bad.DefaultPolicy = "whatever"
	if err := s.Save("a1", bad); !faults.Is(err, faults.InvalidPayload) {
		t.Errorf("Save(bad) = %v, want invalid_payload", err)
	}
}

func TestAuthorizer(t *testing.T) {
	s, _ := newTestStore(t)
	auth := NewAuthorizer(s)

	d, err := auth.Authorize("a1", "files.read")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.Allowed || d.Error != nil {
		t.Errorf("default allow decision = %+v", d)
	}
	if d.Policy.Guardrails.MaxReadBytes <= 0 {
		t.Error("decision carries no guardrails")
	}

	p := Default()
	p.Tools["runtime.exec"] = ToolSpec{Allow: boolPtr(false)}
	if err := s.Save("a1", p); err != nil {
		t.Fatal(err)
	}
	d, err = auth.Authorize("a1", "runtime.exec")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Error == nil || d.Error.Code != faults.ToolForbidden {
		t.Errorf("denied decision = %+v", d)
	}
}
