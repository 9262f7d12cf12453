package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// DocKind names one of the four per-agent markdown documents.
type DocKind string

const (
	DocUser     DocKind = "user"
	DocAgents   DocKind = "agents"
	DocSoul     DocKind = "soul"
	DocIdentity DocKind = "identity"
)

// DocKinds lists all doc kinds in bootstrap order.
var DocKinds = []DocKind{DocUser, DocAgents, DocSoul, DocIdentity}

func (k DocKind) filename() string {
	switch k {
	case DocUser:
		return "User.md"
	case DocAgents:
		return "Agents.md"
	case DocSoul:
		return "Soul.md"
	case DocIdentity:
		return "Identity.md"
	}
	return string(k) + ".md"
}

// Bundle holds all four doc bodies.
type Bundle struct {
	User     string `json:"userDoc"`
	Agents   string `json:"agentsDoc"`
	Soul     string `json:"soulDoc"`
	Identity string `json:"identityDoc"`
}

// Doc reads one document. A missing doc is replaced by its default template;
// line endings are normalized to LF and a trailing newline is ensured.
func (c *Catalog) Doc(agentID string, kind DocKind) (string, error) {
	if !c.Exists(agentID) {
		return "", faults.New(faults.AgentNotFound, "agent %q not found", agentID)
	}
	path := filepath.Join(c.dir(agentID), kind.filename())
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", faults.Wrap(faults.StorageFailure, err)
		}
		if kind == DocIdentity {
			// Legacy layout kept identity in a bare Identity.id file.
			if legacy, lerr := os.ReadFile(filepath.Join(c.dir(agentID), "Identity.id")); lerr == nil {
				return normalizeDoc(string(legacy)), nil
			}
		}
		s, gerr := c.Get(agentID)
		if gerr != nil {
			return "", gerr
		}
		return defaultDocs(s)[kind], nil
	}
	return normalizeDoc(string(data)), nil
}

// PutDoc replaces one document, normalized.
func (c *Catalog) PutDoc(agentID string, kind DocKind, content string) error {
	if !c.Exists(agentID) {
		return faults.New(faults.AgentNotFound, "agent %q not found", agentID)
	}
	path := filepath.Join(c.dir(agentID), kind.filename())
	if err := os.WriteFile(path, []byte(normalizeDoc(content)), 0o644); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	return nil
}

// Docs reads the whole bundle.
func (c *Catalog) Docs(agentID string) (Bundle, error) {
	var b Bundle
	for _, kind := range DocKinds {
		content, err := c.Doc(agentID, kind)
		if err != nil {
			return Bundle{}, err
		}
		switch kind {
		case DocUser:
			b.User = content
		case DocAgents:
			b.Agents = content
		case DocSoul:
			b.Soul = content
		case DocIdentity:
			b.Identity = content
		}
	}
	return b, nil
}

// normalizeDoc converts CRLF to LF and guarantees a trailing newline.
func normalizeDoc(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}

func defaultDocs(s Summary) map[DocKind]string {
	return map[DocKind]string{
		DocUser: "# User\n\nNothing is known about the user yet.\n",
		DocAgents: fmt.Sprintf("# Agents\n\nYou are %s. Sessions are resumable; everything worth"+
			" remembering belongs in your docs, not in your head.\n", s.DisplayName),
		DocSoul: fmt.Sprintf("# Soul\n\nRole: %s\n\nBe direct. Be useful. Ask when unsure.\n", s.Role),
		DocIdentity: fmt.Sprintf("# Identity\n\nid: %s\nname: %s\n", s.ID, s.DisplayName),
	}
}
