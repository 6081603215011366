// Package console implements ratchet-console, a read-only terminal
// dashboard that talks to a running coordinator over its streamable-HTTP
// MCP endpoint (SPEC_FULL.md §1 [EXPANSION]). Grounded on the teacher's
// internal/mode/kanban Model shape (package-level New/Init/Update/View,
// a flat struct of UI sub-components plus width/height/loading/err) and
// internal/mode/dashboard's WorkflowList/FilterState pair, generalized
// from orchestration workflows to jobs and executions.
package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client is a minimal JSON-RPC 2.0 client for one coordinator's MCP
// streamable-HTTP endpoint (§4.9, §6). It is read-only in the sense that
// ratchet-console only ever calls list/get tools, never submit/cancel —
// the transport itself has no such restriction.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	nextID    int64
	sessionID atomic.Value // string
}

// NewClient builds a Client against addr (e.g. "http://127.0.0.1:7733"),
// optionally authenticating with a bearer token.
func NewClient(addr, token string) *Client {
	c := &Client{baseURL: strings.TrimRight(addr, "/"), token: token, http: &http.Client{Timeout: 10 * time.Second}}
	c.sessionID.Store("")
	return c
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call issues one JSON-RPC request over the /mcp endpoint and returns its
// raw result.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("console: marshaling params: %w", err)
	}
	req := rpcRequest{JSONRPC: "2.0", ID: atomic.AddInt64(&c.nextID, 1), Method: method, Params: paramsRaw}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("console: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if sid, _ := c.sessionID.Load().(string); sid != "" {
		httpReq.Header.Set("Mcp-Session-Id", sid)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("console: request failed: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.sessionID.Store(sid)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("console: decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("console: %s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}
	return rpcResp.Result, nil
}

// callTool invokes tools/call for name with args, unwrapping the single
// text content item every ratchet.* tool replies with (§6).
func (c *Client) callTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	result, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &wrapper); err != nil {
		return nil, fmt.Errorf("console: decoding tool result: %w", err)
	}
	if len(wrapper.Content) == 0 {
		return nil, fmt.Errorf("console: tool %s returned no content", name)
	}
	if wrapper.IsError {
		return nil, fmt.Errorf("console: tool %s: %s", name, wrapper.Content[0].Text)
	}
	return json.RawMessage(wrapper.Content[0].Text), nil
}

// ListJobs fetches jobs, optionally filtered by status ("" means any).
func (c *Client) ListJobs(ctx context.Context, status string) ([]JobView, error) {
	raw, err := c.callTool(ctx, "ratchet.list_jobs", map[string]any{"status": status, "limit": 100})
	if err != nil {
		return nil, err
	}
	var body struct {
		Jobs []JobView `json:"jobs"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("console: decoding jobs: %w", err)
	}
	return body.Jobs, nil
}

// ListExecutions fetches every execution recorded for jobID.
func (c *Client) ListExecutions(ctx context.Context, jobID int64) ([]ExecutionView, error) {
	raw, err := c.callTool(ctx, "ratchet.list_executions", map[string]any{"job_id": jobID})
	if err != nil {
		return nil, err
	}
	var body struct {
		Executions []ExecutionView `json:"executions"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("console: decoding executions: %w", err)
	}
	return body.Executions, nil
}

// GetTask fetches a task's definition, including its JavaScript source,
// by id.
func (c *Client) GetTask(ctx context.Context, taskID int64) (TaskView, error) {
	raw, err := c.callTool(ctx, "ratchet.get_task", map[string]any{"task_id": taskID})
	if err != nil {
		return TaskView{}, err
	}
	var tv TaskView
	if err := json.Unmarshal(raw, &tv); err != nil {
		return TaskView{}, fmt.Errorf("console: decoding task: %w", err)
	}
	return tv, nil
}

// GetLogs fetches the coordinator's most recent in-memory log lines.
func (c *Client) GetLogs(ctx context.Context, limit int) ([]string, error) {
	raw, err := c.callTool(ctx, "ratchet.get_logs", map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	var body struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("console: decoding logs: %w", err)
	}
	return body.Lines, nil
}

// JobView and ExecutionView mirror the maps internal/mcp's tools.go
// builds via jobView/executionView — console only ever reads these, it
// never constructs or sends them.
type JobView struct {
	JobID           int64  `json:"job_id"`
	UUID            string `json:"uuid"`
	TaskID          int64  `json:"task_id"`
	Status          string `json:"status"`
	Priority        string `json:"priority"`
	RetryCount      int    `json:"retry_count"`
	MaxRetries      int    `json:"max_retries"`
	QueuedAt        string `json:"queued_at"`
	LastExecutionID int64  `json:"last_execution_id"`
	ErrorMessage    string `json:"error_message"`
}

// TaskView mirrors the map internal/mcp's tools.go builds via taskView.
type TaskView struct {
	TaskID      int64  `json:"task_id"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	SourceCode  string `json:"source_code"`
	InputSchema string `json:"input_schema"`
	Enabled     bool   `json:"enabled"`
}

type ExecutionView struct {
	ExecutionID int64   `json:"execution_id"`
	JobID       int64   `json:"job_id"`
	TaskID      int64   `json:"task_id"`
	Status      string  `json:"status"`
	QueuedAt    string  `json:"queued_at"`
	Progress    float64 `json:"progress"`
}

// ProgressEvent is one `notifications/task/progress` message received
// over the SSE stream (§4.9, mirrors mcp.ProgressUpdate).
type ProgressEvent struct {
	ExecutionID int64     `json:"execution_id"`
	TaskID      int64     `json:"task_id"`
	Progress    float64   `json:"progress"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type sseNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// StreamProgress opens a GET to /mcp and forwards every
// notifications/task/progress event onto the returned channel until ctx
// is cancelled or the connection drops. Callers should re-invoke on
// error to reconnect (console's Update loop does this via a retry tick).
func (c *Client) StreamProgress(ctx context.Context) (<-chan ProgressEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/mcp", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if sid, _ := c.sessionID.Load().(string); sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("console: opening stream: %w", err)
	}
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.sessionID.Store(sid)
	}

	out := make(chan ProgressEvent, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var note sseNotification
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &note); err != nil {
				continue
			}
			if note.Method != "notifications/task/progress" {
				continue
			}
			var ev ProgressEvent
			if err := json.Unmarshal(note.Params, &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
