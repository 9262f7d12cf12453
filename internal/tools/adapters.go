package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
)

// WebAdapter backs the web.search and web.fetch tools.
type WebAdapter interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Fetch(ctx context.Context, url string, maxBytes int64, timeout time.Duration) (FetchResult, error)
}

// SearchHit is one web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// FetchResult is the body of a fetched page, truncated to the byte cap.
type FetchResult struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// MemoryAdapter backs the memory.get and memory.search tools.
type MemoryAdapter interface {
	Get(ctx context.Context, agentID, key string) (string, error)
	Search(ctx context.Context, agentID, query string) ([]MemoryHit, error)
}

// MemoryHit is one memory search match.
type MemoryHit struct {
	Key     string `json:"key"`
	Excerpt string `json:"excerpt"`
}

func (e *Executor) webSearch(ctx context.Context, call Call, g policy.Guardrails) Result {
	if e.web == nil {
		return failResult(call.Tool, faults.New(faults.NotConfigured, "no web adapter is bound"))
	}
	query := strings.TrimSpace(stringArg(call.Arguments, "query"))
	if query == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "query is required"))
	}
	limit := int(int64Arg(call.Arguments, "limit"))
	if limit <= 0 {
		limit = 5
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.WebTimeoutMs)*time.Millisecond)
	defer cancel()
	hits, err := e.web.Search(ctx, query, limit)
	if err != nil {
		return failResult(call.Tool, faults.Ensure(faults.ExecFailed, err))
	}
	return okResult(call.Tool, map[string]any{"query": query, "results": hits})
}

func (e *Executor) webFetch(ctx context.Context, call Call, g policy.Guardrails) Result {
	if e.web == nil {
		return failResult(call.Tool, faults.New(faults.NotConfigured, "no web adapter is bound"))
	}
	url := strings.TrimSpace(stringArg(call.Arguments, "url"))
	if url == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "url is required"))
	}
	res, err := e.web.Fetch(ctx, url, g.WebMaxBytes, time.Duration(g.WebTimeoutMs)*time.Millisecond)
	if err != nil {
		return failResult(call.Tool, faults.Ensure(faults.ExecFailed, err))
	}
	return okResult(call.Tool, res)
}

func (e *Executor) memoryGet(ctx context.Context, call Call) Result {
	if e.memory == nil {
		return failResult(call.Tool, faults.New(faults.NotConfigured, "no memory adapter is bound"))
	}
	key := stringArg(call.Arguments, "key")
	if key == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "key is required"))
	}
	value, err := e.memory.Get(ctx, call.AgentID, key)
	if err != nil {
		return failResult(call.Tool, err)
	}
	return okResult(call.Tool, map[string]string{"key": key, "value": value})
}

func (e *Executor) memorySearch(ctx context.Context, call Call) Result {
	if e.memory == nil {
		return failResult(call.Tool, faults.New(faults.NotConfigured, "no memory adapter is bound"))
	}
	query := stringArg(call.Arguments, "query")
	if query == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "query is required"))
	}
	hits, err := e.memory.Search(ctx, call.AgentID, query)
	if err != nil {
		return failResult(call.Tool, err)
	}
	return okResult(call.Tool, map[string]any{"query": query, "results": hits})
}

// cronCheck validates a cron expression and reports whether it is due now
// and when it fires next.
func (e *Executor) cronCheck(call Call) Result {
	expr := strings.TrimSpace(stringArg(call.Arguments, "expression"))
	if expr == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "expression is required"))
	}
	if !e.cron.IsValid(expr) {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "invalid cron expression %q", expr))
	}
	due, err := e.cron.IsDue(expr)
	if err != nil {
		return failResult(call.Tool, faults.Wrap(faults.ExecFailed, err))
	}
	next, err := gronx.NextTick(expr, false)
	if err != nil {
		return failResult(call.Tool, faults.Wrap(faults.ExecFailed, err))
	}
	return okResult(call.Tool, map[string]any{
		"expression": expr,
		"due":        due,
		"nextRun":    next.UTC().Format(time.RFC3339),
	})
}

// HTTPWebAdapter is the default WebAdapter: plain GET fetches with a byte
// cap. Search is not implemented and reports not_configured, so deployments
// without a search backend still get web.fetch.
type HTTPWebAdapter struct {
	Client *http.Client
}

// NewHTTPWebAdapter returns an adapter on a default client. Per-request
// timeouts come from the guardrails, not the client.
func NewHTTPWebAdapter() *HTTPWebAdapter {
	return &HTTPWebAdapter{Client: &http.Client{}}
}

// Search reports not_configured.
func (a *HTTPWebAdapter) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	return nil, faults.New(faults.NotConfigured, "no search backend is configured")
}

// Fetch GETs url and returns at most maxBytes of the body.
func (a *HTTPWebAdapter) Fetch(ctx context.Context, url string, maxBytes int64, timeout time.Duration) (FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return FetchResult{}, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > maxBytes
	if truncated {
		body = body[:maxBytes]
	}
	return FetchResult{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(body),
		Truncated:   truncated,
	}, nil
}
