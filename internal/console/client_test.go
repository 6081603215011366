package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientListJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Method != "tools/call" {
			t.Fatalf("expected tools/call, got %s", req.Method)
		}

		var params struct {
			Name      string `json:"name"`
			Arguments struct {
				Status string `json:"status"`
			} `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Fatalf("decoding params: %v", err)
		}
		if params.Name != "ratchet.list_jobs" {
			t.Fatalf("expected ratchet.list_jobs, got %s", params.Name)
		}

		payload, _ := json.Marshal(map[string]any{
			"jobs": []JobView{{JobID: 1, Status: "queued", UUID: "abc"}},
		})
		resp := rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: mustMarshal(t, map[string]any{
				"content": []map[string]any{{"type": "text", "text": string(payload)}},
				"isError": false,
			}),
		}
		w.Header().Set("Mcp-Session-Id", "sess-1")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	jobs, err := c.ListJobs(context.Background(), "")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != 1 || jobs[0].UUID != "abc" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	if sid, _ := c.sessionID.Load().(string); sid != "sess-1" {
		t.Fatalf("expected session id to be captured, got %q", sid)
	}
}

func TestClientCallToolSurfacesToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: mustMarshal(t, map[string]any{
				"content": []map[string]any{{"type": "text", "text": "job not found"}},
				"isError": true,
			}),
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.ListExecutions(context.Background(), 99)
	if err == nil {
		t.Fatal("expected error for isError tool result")
	}
}

func TestClientCallSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32001, Message: "unauthorized"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token")
	_, err := c.ListJobs(context.Background(), "")
	if err == nil {
		t.Fatal("expected an error from an RPC error response")
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
