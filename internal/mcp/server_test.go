package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/rerr"
)

type echoArgs struct {
	Value string `json:"value"`
	Fail  bool   `json:"fail"`
}

func registerEchoTool(s *Server) {
	s.RegisterTool(Tool{
		Name:        "echo",
		Description: "returns value, or fails if fail is true",
		InputSchema: &InputSchema{Type: "object", Properties: map[string]*PropertySchema{
			"value": {Type: "string"},
			"fail":  {Type: "boolean"},
		}},
	}, func(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
		var args echoArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, rerr.Wrap(rerr.KindValidation, err)
		}
		if args.Fail {
			return nil, rerr.New(rerr.KindValidation, "echo told to fail")
		}
		return SuccessResult(args.Value), nil
	})
}

func toolCallRequest(t *testing.T, id int, name string, args any) Request {
	t.Helper()
	argsRaw, err := json.Marshal(args)
	require.NoError(t, err)
	params, err := json.Marshal(map[string]any{"name": name, "arguments": json.RawMessage(argsRaw)})
	require.NoError(t, err)
	idRaw, err := json.Marshal(id)
	require.NoError(t, err)
	return Request{JSONRPC: "2.0", ID: idRaw, Method: "tools/call", Params: params}
}

// TestServerHandlesSuccessfulToolCall is §8 seed scenario 1: a
// tools/call against a registered tool returns a non-error result whose
// content carries the handler's text.
func TestServerHandlesSuccessfulToolCall(t *testing.T) {
	s := NewServer("ratchetd-test", "0.0.1")
	registerEchoTool(s)

	req := toolCallRequest(t, 1, "echo", echoArgs{Value: "hello"})
	resp := s.Handle(context.Background(), req)

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(*ToolCallResult)
	require.True(t, ok, "expected *ToolCallResult, got %T", resp.Result)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", result.Content[0].Text)
}

func TestServerToolsCallUnknownToolReturnsMethodNotFound(t *testing.T) {
	s := NewServer("ratchetd-test", "0.0.1")
	req := toolCallRequest(t, 1, "nope", echoArgs{})
	resp := s.Handle(context.Background(), req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

// TestBatchFailFastReportsTotalAcrossAllItems is §8 seed scenario 4: a
// fail-fast batch that stops after the first failing item must still
// report Stats.Total as the full item count, not just how many ran.
func TestBatchFailFastReportsTotalAcrossAllItems(t *testing.T) {
	s := NewServer("ratchetd-test", "0.0.1")
	registerEchoTool(s)

	items := []Request{
		toolCallRequest(t, 1, "echo", echoArgs{Value: "one"}),
		toolCallRequest(t, 2, "echo", echoArgs{Fail: true}),
		toolCallRequest(t, 3, "echo", echoArgs{Value: "three"}),
		toolCallRequest(t, 4, "echo", echoArgs{Value: "four"}),
		toolCallRequest(t, 5, "echo", echoArgs{Value: "five"}),
	}

	req := Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "batch", Params: mustMarshalBatchParams(t, items, "fail-fast", 0)}
	resp := s.Handle(context.Background(), req)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(batchResult)
	require.True(t, ok, "expected batchResult, got %T", resp.Result)
	assert.Equal(t, 5, result.Stats.Total)
	assert.Equal(t, 1, result.Stats.Successful)
	assert.Equal(t, 1, result.Stats.Failed)
	assert.Len(t, result.Results, 2)
}

func TestBatchSequentialRunsEveryItem(t *testing.T) {
	s := NewServer("ratchetd-test", "0.0.1")
	registerEchoTool(s)

	items := []Request{
		toolCallRequest(t, 1, "echo", echoArgs{Value: "one"}),
		toolCallRequest(t, 2, "echo", echoArgs{Fail: true}),
		toolCallRequest(t, 3, "echo", echoArgs{Value: "three"}),
	}
	req := Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "batch", Params: mustMarshalBatchParams(t, items, "sequential", 0)}
	resp := s.Handle(context.Background(), req)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(batchResult)
	require.True(t, ok)
	assert.Equal(t, 3, result.Stats.Total)
	assert.Equal(t, 2, result.Stats.Successful)
	assert.Equal(t, 1, result.Stats.Failed)
	assert.Len(t, result.Results, 3)
}

func TestBatchParallelRunsAllItemsConcurrently(t *testing.T) {
	s := NewServer("ratchetd-test", "0.0.1")
	registerEchoTool(s)

	items := []Request{
		toolCallRequest(t, 1, "echo", echoArgs{Value: "one"}),
		toolCallRequest(t, 2, "echo", echoArgs{Fail: true}),
		toolCallRequest(t, 3, "echo", echoArgs{Value: "three"}),
	}
	req := Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "batch", Params: mustMarshalBatchParams(t, items, "parallel", 3)}
	resp := s.Handle(context.Background(), req)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(batchResult)
	require.True(t, ok)
	assert.Equal(t, 3, result.Stats.Total)
	assert.Equal(t, 2, result.Stats.Successful)
	assert.Equal(t, 1, result.Stats.Failed)
	require.Len(t, result.Results, 3)
	// parallel mode preserves item order in Results despite concurrent execution.
	assert.Nil(t, result.Results[0].Error)
	assert.NotNil(t, result.Results[1].Error)
	assert.Nil(t, result.Results[2].Error)
}

func mustMarshalBatchParams(t *testing.T, items []Request, mode string, maxParallel int) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(batchParams{Items: items, Mode: mode, MaxParallel: maxParallel})
	require.NoError(t, err)
	return raw
}
