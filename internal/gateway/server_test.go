package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/sessiond/internal/agents"
	"github.com/nextlevelbuilder/sessiond/internal/config"
	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/orchestrator"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
	"github.com/nextlevelbuilder/sessiond/internal/procs"
	"github.com/nextlevelbuilder/sessiond/internal/stream"
	"github.com/nextlevelbuilder/sessiond/internal/tools"
)

type gatewayFixture struct {
	ts  *httptest.Server
	cfg *config.Config
}

func newGatewayFixture(t *testing.T, token string) *gatewayFixture {
	t.Helper()
	workspace := t.TempDir()
	agentsRoot := filepath.Join(workspace, "agents")

	cfg := config.Default()
	cfg.Workspace = workspace
	cfg.Gateway.Token = token

	catalog := agents.NewCatalog(agentsRoot)
	log := events.NewLog(agentsRoot)
	t.Cleanup(log.Close)

	store := policy.NewStore(agentsRoot)
	t.Cleanup(store.Close)

	registry := procs.NewRegistry()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		registry.Shutdown(ctx)
	})

	exec := tools.NewExecutor(policy.NewAuthorizer(store), log, catalog, registry, workspace)
	orch := orchestrator.New(catalog, log, exec, registry, orchestrator.NewLoopback(), nil, orchestrator.DefaultOptions())
	fanout := stream.NewFanout(log, stream.Options{
		PollInterval: 10 * time.Millisecond,
		Heartbeat:    time.Minute,
		BufferSize:   16,
	})

	server := NewServer(cfg, catalog, store, orch, log, fanout, exec, nil)
	ts := httptest.NewServer(server.BuildMux())
	t.Cleanup(ts.Close)
	return &gatewayFixture{ts: ts, cfg: cfg}
}

func (f *gatewayFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if f.cfg.Gateway.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.Gateway.Token)
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body errorBody
	decodeJSON(t, resp, &body)
	return body.Error.Code
}

func TestUpdateWorkspaceRepointsStores(t *testing.T) {
	f := newGatewayFixture(t, "")

	resp := f.do(t, http.MethodPut, "/v1/workspace", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty update status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != faults.InvalidPayload {
		t.Fatalf("empty update code = %q", code)
	}

	next := t.TempDir()
	resp = f.do(t, http.MethodPut, "/v1/workspace", map[string]string{"workspace": next})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	var moved struct {
		Workspace  string `json:"workspace"`
		AgentsRoot string `json:"agentsRoot"`
	}
	decodeJSON(t, resp, &moved)
	if moved.AgentsRoot != filepath.Join(next, "agents") {
		t.Errorf("agentsRoot = %q", moved.AgentsRoot)
	}

	// The catalog scaffolds new agents under the new root.
	resp = f.do(t, http.MethodPost, "/v1/agents", agents.CreateRequest{ID: "b1", DisplayName: "B", Role: "R"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create after move = %d", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(next, "agents", "b1", "agent.json")); err != nil {
		t.Errorf("agent not scaffolded under the new root: %v", err)
	}

	// Tool path confinement follows the new workspace.
	resp = f.do(t, http.MethodPost, "/v1/tools/invoke", map[string]any{
		"agentId":   "b1",
		"sessionId": "s1",
		"tool":      "files.write",
		"arguments": map[string]any{"path": "notes.txt", "content": "moved"},
	})
	var result tools.Result
	decodeJSON(t, resp, &result)
	if !result.OK {
		t.Fatalf("files.write after move failed: %+v", result.Error)
	}
	data, err := os.ReadFile(filepath.Join(next, "notes.txt"))
	if err != nil {
		t.Fatalf("written file missing from the new workspace: %v", err)
	}
	if string(data) != "moved" {
		t.Errorf("file content = %q", data)
	}
}

func TestHealth(t *testing.T) {
	f := newGatewayFixture(t, "")
	resp, err := http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestAuth(t *testing.T) {
	f := newGatewayFixture(t, "secret")

	// No token.
	resp, err := http.Get(f.ts.URL + "/v1/agents")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Bearer header.
	resp = f.do(t, http.MethodGet, "/v1/agents", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer status = %d, want 200", resp.StatusCode)
	}

	// Query token, the websocket fallback.
	resp, err = http.Get(f.ts.URL + "/v1/agents?token=secret")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query-token status = %d, want 200", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestAgentLifecycle(t *testing.T) {
	f := newGatewayFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/agents", map[string]string{
		"id": "a1", "displayName": "A", "role": "R",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, errorCode(t, resp))
	}
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/v1/agents", map[string]string{
		"id": "a2", "displayName": "B", "role": "R", "selectedModel": "made-up",
	})
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, resp) != faults.InvalidModel {
		t.Errorf("bad-model create status = %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/v1/agents", map[string]string{
		"id": "a1", "displayName": "A", "role": "R",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	var listing struct {
		Agents []agents.Summary `json:"agents"`
	}
	resp = f.do(t, http.MethodGet, "/v1/agents", nil)
	decodeJSON(t, resp, &listing)
	if len(listing.Agents) != 1 || listing.Agents[0].ID != "a1" {
		t.Errorf("agents = %+v", listing.Agents)
	}

	resp = f.do(t, http.MethodDelete, "/v1/agents/a1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/v1/agents/a1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionFlow(t *testing.T) {
	f := newGatewayFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/agents", map[string]string{
		"id": "a1", "displayName": "A", "role": "R",
	})
	resp.Body.Close()

	var summary events.Summary
	resp = f.do(t, http.MethodPost, "/v1/agents/a1/sessions", map[string]string{"sessionId": "s1", "title": "T"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session = %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &summary)
	if summary.ID != "s1" || summary.Title != "T" {
		t.Errorf("summary = %+v", summary)
	}

	var post orchestrator.PostResult
	resp = f.do(t, http.MethodPost, "/v1/agents/a1/sessions/s1/messages", map[string]string{
		"userId": "u1", "content": "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post message = %d: %s", resp.StatusCode, errorCode(t, resp))
	}
	decodeJSON(t, resp, &post)
	last := post.Appended[len(post.Appended)-1]
	if last.RunStatus == nil || last.RunStatus.Stage != events.StageDone {
		t.Errorf("final event = %+v", last)
	}

	resp = f.do(t, http.MethodPost, "/v1/agents/a1/sessions/s1/control", map[string]string{"action": "explode"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad control = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(t, http.MethodDelete, "/v1/agents/a1/sessions/s1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete session = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/v1/agents/a1/sessions/s1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvokeToolEndpoint(t *testing.T) {
	f := newGatewayFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/agents", map[string]string{
		"id": "a1", "displayName": "A", "role": "R",
	})
	resp.Body.Close()

	var result tools.Result
	resp = f.do(t, http.MethodPost, "/v1/tools/invoke", map[string]any{
		"agentId":   "a1",
		"sessionId": "s1",
		"tool":      "teleport",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke status = %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &result)
	if result.OK || result.Error.Code != faults.InvalidTool {
		t.Errorf("result = %+v, want invalid_tool", result)
	}
}

func TestDashboardWithoutSink(t *testing.T) {
	f := newGatewayFixture(t, "")
	resp := f.do(t, http.MethodGet, "/v1/dashboard/projects", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 (not_configured)", resp.StatusCode)
	}
}

func TestStreamSSE(t *testing.T) {
	f := newGatewayFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/agents", map[string]string{
		"id": "a1", "displayName": "A", "role": "R",
	})
	resp.Body.Close()
	resp = f.do(t, http.MethodPost, "/v1/agents/a1/sessions", map[string]string{"sessionId": "s1"})
	resp.Body.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/v1/agents/a1/sessions/s1/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	streamResp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer streamResp.Body.Close()
	if ct := streamResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(streamResp.Body)
	sawOpen, sawReady := false, false
	for scanner.Scan() {
		line := scanner.Text()
		if line == ": stream-open" {
			sawOpen = true
		}
		if line == "event: sessionReady" {
			sawReady = true
			break
		}
	}
	if !sawOpen || !sawReady {
		t.Errorf("open=%v ready=%v", sawOpen, sawReady)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{faults.AgentNotFound, http.StatusNotFound},
		{faults.SessionNotFound, http.StatusNotFound},
		{faults.AlreadyExists, http.StatusConflict},
		{faults.ProcessLimitReached, http.StatusConflict},
		{faults.ToolForbidden, http.StatusForbidden},
		{faults.PathNotAllowed, http.StatusForbidden},
		{faults.RateLimited, http.StatusTooManyRequests},
		{faults.InvalidPayload, http.StatusBadRequest},
		{faults.InvalidModel, http.StatusBadRequest},
		{faults.StorageFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := statusFor(tt.code); got != tt.want {
				t.Errorf("statusFor(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	f := newGatewayFixture(t, "")
	s := &Server{cfg: f.cfg}

	newReq := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	// No configured origins allows everything.
	if !s.checkOrigin(newReq("https://evil.example")) {
		t.Error("empty allowlist rejected an origin")
	}

	f.cfg.Gateway.AllowedOrigins = []string{"https://app.example.com"}
	if !s.checkOrigin(newReq("https://app.example.com")) {
		t.Error("allowed origin rejected")
	}
	if s.checkOrigin(newReq("https://evil.example")) {
		t.Error("disallowed origin accepted")
	}
	if !s.checkOrigin(newReq("")) {
		t.Error("non-browser client rejected")
	}

	f.cfg.Gateway.AllowedOrigins = []string{"*"}
	if !s.checkOrigin(newReq("https://evil.example")) {
		t.Error("wildcard rejected an origin")
	}
}
