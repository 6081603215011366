package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ratchetdata/ratchet/internal/log"
)

// storedEvent is one SSE event recorded for a session, so a client that
// reconnects with `Last-Event-Id` can replay what it missed (§4.9, §6
// "Streamable-HTTP... resumable via Last-Event-Id").
type storedEvent struct {
	id   int64
	data []byte
}

// httpSession tracks one streamable-HTTP client: a ring of recent
// events for resumption and the live SSE writer, if any, currently
// attached.
type httpSession struct {
	mu      sync.Mutex
	nextID  int64
	events  []storedEvent
	live    chan storedEvent
	maxBuf  int
}

func newHTTPSession() *httpSession {
	return &httpSession{maxBuf: 256}
}

func (s *httpSession) record(data []byte) storedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev := storedEvent{id: s.nextID, data: data}
	s.events = append(s.events, ev)
	if len(s.events) > s.maxBuf {
		s.events = s.events[len(s.events)-s.maxBuf:]
	}
	if s.live != nil {
		select {
		case s.live <- ev:
		default:
		}
	}
	return ev
}

func (s *httpSession) replaySince(lastEventID int64) []storedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storedEvent, 0, len(s.events))
	for _, ev := range s.events {
		if ev.id > lastEventID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *httpSession) attach() chan storedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan storedEvent, 32)
	s.live = ch
	return ch
}

func (s *httpSession) detach(ch chan storedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == ch {
		s.live = nil
	}
	close(ch)
}

// HTTPTransport serves the streamable-HTTP transport: a single
// `/mcp` endpoint that accepts POSTed JSON-RPC requests and GET
// requests that upgrade to an SSE stream, session-scoped by the
// `Mcp-Session-Id` header (§4.9, §6). Session event logs are kept in
// patrickmn/go-cache so inactive sessions evict automatically after
// SessionTimeout, matching the pack's dominant TTL-cache choice for
// this kind of bounded, expiring keyspace.
type HTTPTransport struct {
	server         *Server
	auth           *AuthGuard
	sessionTimeout time.Duration
	sessions       *gocache.Cache
}

// NewHTTPTransport builds a transport; auth may be nil to skip the
// bearer-token guard entirely.
func NewHTTPTransport(server *Server, auth *AuthGuard, sessionTimeout time.Duration) *HTTPTransport {
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Minute
	}
	return &HTTPTransport{
		server:         server,
		auth:           auth,
		sessionTimeout: sessionTimeout,
		sessions:       gocache.New(sessionTimeout, sessionTimeout/2),
	}
}

// Handler returns the http.Handler to mount at the MCP endpoint.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", t.handleMCP)
	var h http.Handler = mux
	if t.auth != nil {
		h = t.auth.Middleware(mux)
	}
	return h
}

func (t *HTTPTransport) sessionFor(w http.ResponseWriter, r *http.Request) (string, *httpSession) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		id = uuid.NewString()
	}
	raw, ok := t.sessions.Get(id)
	var sess *httpSession
	if ok {
		sess = raw.(*httpSession)
	} else {
		sess = newHTTPSession()
	}
	t.sessions.Set(id, sess, gocache.DefaultExpiration)
	w.Header().Set("Mcp-Session-Id", id)
	return id, sess
}

func (t *HTTPTransport) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleStream(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	_, sess := t.sessionFor(w, r)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, "parse error", nil))
		return
	}

	resp := t.server.Handle(r.Context(), req)

	data, err := json.Marshal(resp)
	if err == nil {
		sess.record(data)
	}
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, resp)
}

// handleStream opens an SSE stream for the session, replaying any
// events recorded after Last-Event-Id before switching to live
// delivery (progress notifications fanned out by BroadcastingPublisher
// land here via BroadcastNotification).
func (t *HTTPTransport) handleStream(w http.ResponseWriter, r *http.Request) {
	_, sess := t.sessionFor(w, r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var lastEventID int64
	if v := r.Header.Get("Last-Event-Id"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = parsed
		}
	}
	for _, ev := range sess.replaySince(lastEventID) {
		writeSSE(w, ev.id, ev.data)
	}
	flusher.Flush()

	live := sess.attach()
	defer sess.detach(live)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			writeSSE(w, ev.id, ev.data)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, id int64, data []byte) {
	fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", id, data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ErrorErr(log.CatMCP, "http transport: failed to write response", err)
	}
}

// BroadcastNotification pushes a JSON-RPC notification (no id) to every
// active session's event log/live stream, used to fan out
// `notifications/task/progress` (§4.9) to any connected client.
func (t *HTTPTransport) BroadcastNotification(method string, params any) {
	data, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params"`
	}{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		log.ErrorErr(log.CatMCP, "failed to marshal notification", err)
		return
	}
	for _, item := range t.sessions.Items() {
		sess := item.Object.(*httpSession)
		sess.record(data)
	}
}
