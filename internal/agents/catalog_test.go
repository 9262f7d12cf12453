package agents

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

func newTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	root := t.TempDir()
	return NewCatalog(root), root
}

func TestCreateAndList(t *testing.T) {
	c, root := newTestCatalog(t)

	summary, err := c.Create(CreateRequest{ID: "a1", DisplayName: "A", Role: "R"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if summary.ID != "a1" || summary.DisplayName != "A" || summary.Role != "R" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	list, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "a1" {
		t.Fatalf("unexpected list %+v", list)
	}

	dir := filepath.Join(root, "a1")
	for _, name := range []string{
		"agent.json", "config.json",
		"User.md", "Agents.md", "Soul.md", "Identity.md",
		filepath.Join("tools", "tools.json"),
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing scaffold file %s: %v", name, err)
		}
	}
	info, err := os.Stat(filepath.Join(dir, "sessions"))
	if err != nil || !info.IsDir() {
		t.Errorf("missing sessions dir: %v", err)
	}
	policyData, err := os.ReadFile(filepath.Join(dir, "tools", "tools.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(policyData), `"defaultPolicy": "allow"`) {
		t.Errorf("default policy not allow: %s", policyData)
	}
}

func TestCreateValidation(t *testing.T) {
	c, _ := newTestCatalog(t)

	tests := []struct {
		name     string
		req      CreateRequest
		wantCode string
	}{
		{"bad id", CreateRequest{ID: "bad id", DisplayName: "A", Role: "R"}, faults.InvalidAgentID},
		{"empty name", CreateRequest{ID: "a1", DisplayName: " ", Role: "R"}, faults.InvalidPayload},
		{"empty role", CreateRequest{ID: "a1", DisplayName: "A", Role: ""}, faults.InvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(tt.req)
			if faults.Code(err) != tt.wantCode {
				t.Errorf("error = %v, want %s", err, tt.wantCode)
			}
		})
	}

	if _, err := c.Create(CreateRequest{ID: "a1", DisplayName: "A", Role: "R"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Create(CreateRequest{ID: "a1", DisplayName: "B", Role: "S"})
	if !faults.Is(err, faults.AlreadyExists) {
		t.Errorf("duplicate create = %v, want already_exists", err)
	}
}

func TestDocDefaultsAndNormalization(t *testing.T) {
	c, root := newTestCatalog(t)
	if _, err := c.Create(CreateRequest{ID: "a1", DisplayName: "A", Role: "R"}); err != nil {
		t.Fatal(err)
	}

	// Missing doc falls back to the default template.
	if err := os.Remove(filepath.Join(root, "a1", "Soul.md")); err != nil {
		t.Fatal(err)
	}
	soul, err := c.Doc("a1", DocSoul)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(soul, "Role: R") {
		t.Errorf("default soul doc missing role: %q", soul)
	}

	// CRLF input comes back as LF with a trailing newline.
	if err := c.PutDoc("a1", DocUser, "line1\r\nline2"); err != nil {
		t.Fatal(err)
	}
	user, err := c.Doc("a1", DocUser)
	if err != nil {
		t.Fatal(err)
	}
	if user != "line1\nline2\n" {
		t.Errorf("normalized doc = %q", user)
	}
}

func TestLegacyIdentityPromotion(t *testing.T) {
	c, root := newTestCatalog(t)
	if _, err := c.Create(CreateRequest{ID: "a1", DisplayName: "A", Role: "R"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "a1", "Identity.md")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a1", "Identity.id"), []byte("legacy-identity"), 0o644); err != nil {
		t.Fatal(err)
	}

	identity, err := c.Doc("a1", DocIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if identity != "legacy-identity\n" {
		t.Errorf("legacy identity = %q", identity)
	}
}

func TestUpdateSelectedModel(t *testing.T) {
	c, _ := newTestCatalog(t)
	if _, err := c.Create(CreateRequest{ID: "a1", DisplayName: "A", Role: "R"}); err != nil {
		t.Fatal(err)
	}
	updated, err := c.UpdateSelectedModel("a1", "gpt-5")
	if err != nil {
		t.Fatal(err)
	}
	if updated.SelectedModel != "gpt-5" {
		t.Errorf("model = %q", updated.SelectedModel)
	}
	got, err := c.Get("a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SelectedModel != "gpt-5" {
		t.Errorf("persisted model = %q", got.SelectedModel)
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCatalog(t)
	if _, err := c.Create(CreateRequest{ID: "a1", DisplayName: "A", Role: "R"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("a1"); err != nil {
		t.Fatal(err)
	}
	if c.Exists("a1") {
		t.Error("agent still exists after delete")
	}
	if err := c.Delete("a1"); !faults.Is(err, faults.AgentNotFound) {
		t.Errorf("second delete = %v, want agent_not_found", err)
	}
}
