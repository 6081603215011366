package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/rerr"
	"github.com/ratchetdata/ratchet/internal/sanitize"
)

// PropertySchema is one JSON-Schema property descriptor, matching the
// nested shape the teacher's mcp.PropertySchema uses for tool
// input/output schemas.
type PropertySchema struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description,omitempty"`
	Properties  map[string]*PropertySchema `json:"properties,omitempty"`
	Items       *PropertySchema            `json:"items,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Enum        []string                   `json:"enum,omitempty"`
}

// InputSchema and OutputSchema are the top-level JSON-Schema wrapper a
// Tool carries in its `tools/list` descriptor.
type InputSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]*PropertySchema `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

type OutputSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]*PropertySchema `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
	Items      *PropertySchema            `json:"items,omitempty"`
}

// Tool is one entry in the registry: a name, description, and the
// input/output schema advertised by `tools/list`.
type Tool struct {
	Name         string
	Description  string
	InputSchema  *InputSchema
	OutputSchema *OutputSchema
}

// ContentItem is one element of a ToolCallResult's content array. Only
// text content is produced by the tools in this package (§6:
// "tools/call(name, arguments) → {content: [...], isError: bool}").
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is a tool handler's reply.
type ToolCallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// SuccessResult wraps a plain text payload as a non-error result,
// matching the teacher's mcp.SuccessResult helper.
func SuccessResult(text string) *ToolCallResult {
	return &ToolCallResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

// ErrorResult wraps a message as an isError result.
func ErrorResult(message string) *ToolCallResult {
	return &ToolCallResult{Content: []ContentItem{{Type: "text", Text: message}}, IsError: true}
}

// ToolHandler implements one tool's behavior.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error)

type registeredTool struct {
	tool    Tool
	handler ToolHandler
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithInstructions sets the server's free-text client instructions,
// returned by `initialize`.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithTracer installs an OpenTelemetry tracer used to span every
// `tools/call`, matching the teacher's SetTracer/cs.tracer field.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// WithSanitizer installs the error sanitization boundary (§4.11) tool
// errors and internal RPC errors are passed through before leaving the
// process.
func WithSanitizer(sanitizer *sanitize.Sanitizer) Option {
	return func(s *Server) { s.sanitizer = sanitizer }
}

// Server is a JSON-RPC 2.0 tool registry plus the standard MCP methods
// (§4.9: initialize, initialized, ping, tools/list, tools/call, batch).
// It is transport-agnostic: transport_stdio.go and transport_http.go
// each feed Requests into Handle and write back Responses.
type Server struct {
	name         string
	version      string
	instructions string
	tracer       trace.Tracer
	sanitizer    *sanitize.Sanitizer

	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string
}

// NewServer builds a Server, in the teacher's NewServer(name, version,
// opts...) pattern.
func NewServer(name, version string, opts ...Option) *Server {
	s := &Server{
		name:    name,
		version: version,
		tools:   make(map[string]registeredTool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sanitizer == nil {
		s.sanitizer = sanitize.New(sanitize.DefaultConfig())
	}
	return s
}

// SetSanitizer swaps the installed error sanitizer, used by a
// configuration hot reload to apply a changed max_message_length without
// restarting the server.
func (s *Server) SetSanitizer(sanitizer *sanitize.Sanitizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sanitizer = sanitizer
}

// RegisterTool adds a tool to the registry, keyed by name.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; !exists {
		s.order = append(s.order, tool.Name)
	}
	s.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
}

// Handle dispatches one JSON-RPC request and returns the response to
// write back. For notifications (req.IsNotification()), the caller
// should discard the returned Response — Handle still computes it so
// callers that want to log failures uniformly may inspect it, but no
// ...Response is written onto a notification's transport per JSON-RPC 2.0.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized":
		return okResponse(req.ID, nil)
	case "ping":
		return okResponse(req.ID, map[string]string{"status": "pong"})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "batch":
		return s.handleBatch(ctx, req)
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      map[string]any `json:"clientInfo"`
}

// ProtocolVersion is the MCP protocol version this server implements.
const ProtocolVersion = "2025-06-18"

func (s *Server) handleInitialize(req Request) Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "invalid initialize params", nil)
		}
	}
	result := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]string{"name": s.name, "version": s.version},
	}
	if s.instructions != "" {
		result["instructions"] = s.instructions
	}
	return okResponse(req.ID, result)
}

type toolDescriptor struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	InputSchema  *InputSchema  `json:"inputSchema,omitempty"`
	OutputSchema *OutputSchema `json:"outputSchema,omitempty"`
}

func (s *Server) handleToolsList(req Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]toolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		rt := s.tools[name]
		tools = append(tools, toolDescriptor{
			Name:         rt.tool.Name,
			Description:  rt.tool.Description,
			InputSchema:  rt.tool.InputSchema,
			OutputSchema: rt.tool.OutputSchema,
		})
	}
	return okResponse(req.ID, map[string]any{"tools": tools})
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req Request) Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "invalid tools/call params", nil)
	}
	result, rpcErr := s.callTool(ctx, params.Name, params.Arguments)
	if rpcErr != nil {
		return errResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	return okResponse(req.ID, result)
}

// callTool looks up and invokes a tool by name, tracing the call and
// sanitizing any error surfaced by the handler before it leaves the
// process (§4.11).
func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, *RPCError) {
	s.mu.RLock()
	rt, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown tool: %s", name)}
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "mcp.tools/call", trace.WithAttributes(attribute.String("mcp.tool.name", name)))
		defer span.End()
		result, err := rt.handler(ctx, args)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, s.toRPCError(err)
		}
		if result != nil && result.IsError {
			span.SetStatus(codes.Error, "tool reported isError")
		}
		return result, nil
	}

	result, err := rt.handler(ctx, args)
	if err != nil {
		return nil, s.toRPCError(err)
	}
	return result, nil
}

// toRPCError classifies err by rerr.Kind and sanitizes its message
// before attaching it to a JSON-RPC error (§4.11, §7).
func (s *Server) toRPCError(err error) *RPCError {
	code := CodeInternalError
	switch rerr.KindOf(err) {
	case rerr.KindNotFound:
		code = CodeNotFound
	case rerr.KindValidation, rerr.KindJSCompile, rerr.KindJSRuntime, rerr.KindJSTyped:
		code = CodeValidation
	case rerr.KindAuth:
		code = CodeForbidden
	case rerr.KindWorkerCrashed:
		code = CodeWorkerCrashed
	}
	sanitized := s.sanitizer.SanitizeMessage(err.Error())
	log.ErrorErr(log.CatMCP, "tool call failed", err)
	return &RPCError{Code: code, Message: sanitized.Message, Data: map[string]string{"code": sanitized.Code}}
}

// batchParams is the non-standard `batch` method's request shape (§4.9,
// §6): an array of sub-requests with a dispatch mode.
type batchParams struct {
	Items       []Request `json:"items"`
	Mode        string    `json:"mode"`
	MaxParallel int       `json:"max_parallel"`
	TimeoutMs   int       `json:"timeout_ms"`
}

type batchStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type batchResult struct {
	Results []Response `json:"results"`
	Stats   batchStats `json:"stats"`
}

// handleBatch executes items.Items per §4.9: `parallel` runs up to
// MaxParallel concurrently (a bounded worker pool, the Go analogue of
// buffer_unordered(max_parallel)); `sequential` runs one at a time;
// `fail-fast` runs sequentially and stops dispatching after the first
// error response, returning only the results produced so far (§8
// boundary scenario 4).
func (s *Server) handleBatch(ctx context.Context, req Request) Response {
	var params batchParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "invalid batch params", nil)
	}
	if len(params.Items) == 0 {
		return okResponse(req.ID, batchResult{Results: []Response{}, Stats: batchStats{}})
	}

	switch params.Mode {
	case "sequential", "":
		return okResponse(req.ID, s.batchSequential(ctx, params, false))
	case "fail-fast":
		return okResponse(req.ID, s.batchSequential(ctx, params, true))
	case "parallel":
		return okResponse(req.ID, s.batchParallel(ctx, params))
	default:
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown batch mode: %s", params.Mode), nil)
	}
}

func (s *Server) batchSequential(ctx context.Context, params batchParams, failFast bool) batchResult {
	out := batchResult{Stats: batchStats{Total: len(params.Items)}}
	for _, item := range params.Items {
		resp := s.Handle(ctx, item)
		out.Results = append(out.Results, resp)
		if resp.Error == nil {
			out.Stats.Successful++
		} else {
			out.Stats.Failed++
			if failFast {
				break
			}
		}
	}
	return out
}

func (s *Server) batchParallel(ctx context.Context, params batchParams) batchResult {
	maxParallel := params.MaxParallel
	if maxParallel <= 0 {
		return batchResult{Results: []Response{}, Stats: batchStats{Total: len(params.Items)}}
	}

	type indexed struct {
		idx  int
		resp Response
	}
	sem := make(chan struct{}, maxParallel)
	resultsCh := make(chan indexed, len(params.Items))
	var wg sync.WaitGroup
	for i, item := range params.Items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item Request) {
			defer wg.Done()
			defer func() { <-sem }()
			resultsCh <- indexed{idx: i, resp: s.Handle(ctx, item)}
		}(i, item)
	}
	wg.Wait()
	close(resultsCh)

	ordered := make([]Response, len(params.Items))
	for r := range resultsCh {
		ordered[r.idx] = r.resp
	}

	out := batchResult{Results: ordered, Stats: batchStats{Total: len(params.Items)}}
	for _, resp := range ordered {
		if resp.Error == nil {
			out.Stats.Successful++
		} else {
			out.Stats.Failed++
		}
	}
	return out
}
