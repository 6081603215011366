package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/store/sqlite"
)

func newTestServer(t *testing.T) (*Server, *RatchetTools) {
	t.Helper()
	s, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Tasks().Create(context.Background(), &model.Task{
		Name:         "echo",
		Version:      "1.0.0",
		SourceCode:   `function main(input){ return input; }`,
		InputSchema:  `{"type":"object"}`,
		OutputSchema: `{"type":"object"}`,
		Enabled:      true,
	})
	require.NoError(t, err)

	q := queue.New(s, queue.DefaultRetryPolicy())
	tools := NewRatchetTools(s, q, NewProgressManager())
	server := NewServer("ratchetd-test", "0.0.1")
	tools.Register(server)
	return server, tools
}

// TestSubmitAndGetJobRoundTrip exercises ratchet.submit_job followed by
// ratchet.get_job, the job-side half of §8 scenario 1.
func TestSubmitAndGetJobRoundTrip(t *testing.T) {
	server, _ := newTestServer(t)

	submitReq := toolCallRequest(t, 1, "ratchet.submit_job", map[string]any{
		"task_name": "echo",
		"input":     map[string]any{"msg": "hi"},
	})
	submitResp := server.Handle(context.Background(), submitReq)
	require.Nil(t, submitResp.Error)

	result, ok := submitResp.Result.(*ToolCallResult)
	require.True(t, ok)
	var submitted struct {
		JobID  int64  `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &submitted))
	assert.Equal(t, "queued", submitted.Status)
	assert.NotZero(t, submitted.JobID)

	getReq := toolCallRequest(t, 2, "ratchet.get_job", map[string]any{"job_id": submitted.JobID})
	getResp := server.Handle(context.Background(), getReq)
	require.Nil(t, getResp.Error)

	result, ok = getResp.Result.(*ToolCallResult)
	require.True(t, ok)
	var fetched struct {
		JobID int64 `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &fetched))
	assert.Equal(t, submitted.JobID, fetched.JobID)
}

func TestSubmitJobUnknownTaskFails(t *testing.T) {
	server, _ := newTestServer(t)
	req := toolCallRequest(t, 1, "ratchet.submit_job", map[string]any{
		"task_name": "does-not-exist",
		"input":     map[string]any{},
	})
	resp := server.Handle(context.Background(), req)
	require.NotNil(t, resp.Error)
}

// TestGetLogsReturnsBufferedLines confirms the console's log overlay
// tool surfaces whatever internal/log's ring buffer currently holds.
func TestGetLogsReturnsBufferedLines(t *testing.T) {
	server, _ := newTestServer(t)

	flush, err := log.Init(log.Config{BufferSize: 16})
	require.NoError(t, err)
	defer flush()

	log.Info(log.CatMCP, "hello from get_logs test")

	req := toolCallRequest(t, 1, "ratchet.get_logs", map[string]any{"limit": 10})
	resp := server.Handle(context.Background(), req)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(*ToolCallResult)
	require.True(t, ok)
	var body struct {
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &body))
	require.NotEmpty(t, body.Lines)
	assert.Contains(t, body.Lines[len(body.Lines)-1], "hello from get_logs test")
}
