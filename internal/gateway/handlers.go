package gateway

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/sessiond/internal/agents"
	"github.com/nextlevelbuilder/sessiond/internal/config"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/orchestrator"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
	"github.com/nextlevelbuilder/sessiond/internal/tools"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.List()
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": list})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agents.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.SelectedModel != "" && !s.cfg.KnownModel(req.SelectedModel) {
		writeFault(w, faults.New(faults.InvalidModel, "unknown model %q", req.SelectedModel))
		return
	}
	summary, err := s.catalog.Create(req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	summary, err := s.catalog.Get(r.PathValue("agentID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.PathValue("agentID")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if !s.cfg.KnownModel(req.Model) {
		writeFault(w, faults.New(faults.InvalidModel, "unknown model %q", req.Model))
		return
	}
	summary, err := s.orch.SelectModel(r.PathValue("agentID"), req.Model)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func docKind(name string) (agents.DocKind, bool) {
	for _, kind := range agents.DocKinds {
		if string(kind) == name {
			return kind, true
		}
	}
	return "", false
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	kind, ok := docKind(r.PathValue("kind"))
	if !ok {
		writeFault(w, faults.New(faults.InvalidPayload, "unknown doc kind %q", r.PathValue("kind")))
		return
	}
	content, err := s.catalog.Doc(r.PathValue("agentID"), kind)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": string(kind), "content": content})
}

func (s *Server) handlePutDoc(w http.ResponseWriter, r *http.Request) {
	kind, ok := docKind(r.PathValue("kind"))
	if !ok {
		writeFault(w, faults.New(faults.InvalidPayload, "unknown doc kind %q", r.PathValue("kind")))
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if err := s.catalog.PutDoc(r.PathValue("agentID"), kind, req.Content); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.policies.Load(r.PathValue("agentID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	if !s.catalog.Exists(agentID) {
		writeFault(w, faults.New(faults.AgentNotFound, "agent %q not found", agentID))
		return
	}
	var p policy.Policy
	if err := decodeBody(r, &p); err != nil {
		writeFault(w, err)
		return
	}
	if err := s.policies.Save(agentID, p); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.log.ListSessions(r.Context(), r.PathValue("agentID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	summary, err := s.orch.CreateSession(r.Context(), r.PathValue("agentID"), req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := s.log.Load(r.Context(), r.PathValue("agentID"), r.PathValue("sessionID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteSession(r.Context(), r.PathValue("agentID"), r.PathValue("sessionID")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.PostMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	res, err := s.orch.PostMessage(r.Context(), r.PathValue("agentID"), r.PathValue("sessionID"), req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
		UserID string `json:"userId,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	summary, err := s.orch.ControlSession(r.Context(), r.PathValue("agentID"), r.PathValue("sessionID"), req.Action, req.UserID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID   string `json:"agentId"`
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId,omitempty"`
		tools.Request
	}
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	res := s.exec.Invoke(r.Context(), tools.Call{
		Request:   req.Request,
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})
	writeJSON(w, http.StatusOK, res)
}

// handleUpdateWorkspace repoints every store at a new workspace and/or agents
// root in one serialized step. An omitted agentsRoot follows the workspace.
func (s *Server) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Workspace  string `json:"workspace,omitempty"`
		AgentsRoot string `json:"agentsRoot,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.Workspace == "" && req.AgentsRoot == "" {
		writeFault(w, faults.New(faults.InvalidPayload, "workspace or agentsRoot required"))
		return
	}

	workspace := config.ExpandHome(req.Workspace)
	agentsRoot := config.ExpandHome(req.AgentsRoot)
	if agentsRoot == "" {
		agentsRoot = filepath.Join(workspace, "agents")
	}
	for _, dir := range []string{workspace, agentsRoot} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			writeFault(w, faults.Wrap(faults.StorageFailure, err))
			return
		}
	}

	s.workspaceMu.Lock()
	if workspace != "" {
		s.exec.UpdateWorkspace(workspace)
	}
	s.log.UpdateAgentsRoot(agentsRoot)
	s.catalog.UpdateRoot(agentsRoot)
	s.policies.UpdateRoot(agentsRoot)
	s.workspaceMu.Unlock()
	slog.Info("workspace repointed", "workspace", workspace, "agentsRoot", agentsRoot)

	writeJSON(w, http.StatusOK, map[string]string{"workspace": workspace, "agentsRoot": agentsRoot})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeFault(w, faults.New(faults.NotConfigured, "no database is configured"))
		return
	}
	list, err := s.sink.ListProjects()
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": list})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeFault(w, faults.New(faults.NotConfigured, "no database is configured"))
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.Name == "" {
		writeFault(w, faults.New(faults.InvalidPayload, "name is required"))
		return
	}
	project, err := s.sink.CreateProject(req.Name)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}
