// Package agents persists agent profiles and their doc bundles under
// <workspace>/agents/<agentId>/.
package agents

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
)

// Summary is the persisted agent profile.
type Summary struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
	SelectedModel string    `json:"selectedModel,omitempty"`
}

// CreateRequest is the input for Create.
type CreateRequest struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	SelectedModel string `json:"selectedModel,omitempty"`
}

// Catalog is the agent catalog store.
type Catalog struct {
	mu   sync.RWMutex
	root string // agents root
}

// NewCatalog creates a catalog rooted at agentsRoot.
func NewCatalog(agentsRoot string) *Catalog {
	return &Catalog{root: agentsRoot}
}

// Root returns the current agents root.
func (c *Catalog) Root() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

// UpdateRoot repoints the catalog at a new agents root.
func (c *Catalog) UpdateRoot(root string) {
	c.mu.Lock()
	c.root = root
	c.mu.Unlock()
}

func (c *Catalog) dir(agentID string) string { return filepath.Join(c.Root(), agentID) }

// Create scaffolds the full agent layout in one transaction: the directory,
// agent.json, config.json, the four markdown docs, sessions/, and the
// default tools policy. On failure anywhere after directory creation the
// whole directory is removed.
func (c *Catalog) Create(req CreateRequest) (Summary, error) {
	if !events.ValidAgentID(req.ID) {
		return Summary{}, faults.New(faults.InvalidAgentID, "invalid agent id %q", req.ID)
	}
	if strings.TrimSpace(req.DisplayName) == "" || strings.TrimSpace(req.Role) == "" {
		return Summary{}, faults.New(faults.InvalidPayload, "displayName and role are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Join(c.root, req.ID)
	if _, err := os.Stat(dir); err == nil {
		return Summary{}, faults.New(faults.AlreadyExists, "agent %q already exists", req.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Summary{}, faults.Wrap(faults.StorageFailure, err)
	}

	summary := Summary{
		ID:            req.ID,
		DisplayName:   req.DisplayName,
		Role:          req.Role,
		CreatedAt:     time.Now().UTC(),
		SelectedModel: req.SelectedModel,
	}
	if err := c.scaffold(dir, summary); err != nil {
		os.RemoveAll(dir)
		return Summary{}, err
	}
	return summary, nil
}

func (c *Catalog) scaffold(dir string, summary Summary) error {
	if err := writeSummaryFiles(dir, summary); err != nil {
		return err
	}
	for kind, content := range defaultDocs(summary) {
		if err := os.WriteFile(filepath.Join(dir, kind.filename()), []byte(content), 0o644); err != nil {
			return faults.Wrap(faults.StorageFailure, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o755); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	if err := policy.WriteDefault(dir); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	return nil
}

// writeSummaryFiles writes agent.json (sorted keys) and config.json.
func writeSummaryFiles(dir string, s Summary) error {
	// agent.json goes through a map so keys come out sorted.
	m := map[string]any{
		"id":          s.ID,
		"displayName": s.DisplayName,
		"role":        s.Role,
		"createdAt":   s.CreatedAt.Format(time.RFC3339Nano),
	}
	if s.SelectedModel != "" {
		m["selectedModel"] = s.SelectedModel
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "agent.json"), append(data, '\n'), 0o644); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}

	cfg, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), append(cfg, '\n'), 0o644); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	return nil
}

// Get loads one agent summary.
func (c *Catalog) Get(agentID string) (Summary, error) {
	if !events.ValidAgentID(agentID) {
		return Summary{}, faults.New(faults.InvalidAgentID, "invalid agent id %q", agentID)
	}
	data, err := os.ReadFile(filepath.Join(c.dir(agentID), "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, faults.New(faults.AgentNotFound, "agent %q not found", agentID)
		}
		return Summary{}, faults.Wrap(faults.StorageFailure, err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, faults.Wrap(faults.StorageFailure, err)
	}
	return s, nil
}

// List returns all agents sorted by id.
func (c *Catalog) List() ([]Summary, error) {
	entries, err := os.ReadDir(c.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, faults.Wrap(faults.StorageFailure, err)
	}
	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := c.Get(entry.Name())
		if err != nil {
			slog.Warn("agents: skipping unreadable agent dir", "dir", entry.Name(), "error", err)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes the whole agent directory.
func (c *Catalog) Delete(agentID string) error {
	if _, err := c.Get(agentID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(c.root, agentID)); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	return nil
}

// UpdateSelectedModel persists a new model selection. The caller validates
// the model against the known catalog.
func (c *Catalog) UpdateSelectedModel(agentID, model string) (Summary, error) {
	s, err := c.Get(agentID)
	if err != nil {
		return Summary{}, err
	}
	s.SelectedModel = model
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeSummaryFiles(filepath.Join(c.root, agentID), s); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// Exists reports whether the agent directory is present.
func (c *Catalog) Exists(agentID string) bool {
	info, err := os.Stat(c.dir(agentID))
	return err == nil && info.IsDir()
}
