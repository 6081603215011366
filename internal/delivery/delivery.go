// Package delivery implements output delivery sinks: the push interface
// the execution engine calls once per configured destination string when
// a Job completes (spec.md §1, kept minimal — "Output delivery
// destinations ... specified only as a push interface"). Grounded on
// original_source/ratchet-output/src/destinations/stdio.rs for the
// stdio sink's JSON-with-optional-metadata shape.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ratchetdata/ratchet/internal/rerr"
)

// Payload is what the engine hands to a sink once a Job completes.
type Payload struct {
	JobID       int64
	TaskID      int64
	ExecutionID int64
	TaskName    string
	Output      json.RawMessage
	CompletedAt time.Time
}

// Receipt confirms a successful delivery.
type Receipt struct {
	Destination string
	DeliveredAt time.Time
	Detail      string
}

// Sink delivers a completed job's output somewhere.
type Sink interface {
	Deliver(ctx context.Context, p Payload) (Receipt, error)
}

// Registry resolves a destination string (e.g. "stdio:stdout",
// "file:/var/log/ratchet/out.jsonl", "webhook:https://...") to a Sink.
type Registry struct {
	stdout io.Writer
	stderr io.Writer
}

// NewRegistry builds a Registry; stdout/stderr default to os.Stdout/os.Stderr.
func NewRegistry(stdout, stderr io.Writer) *Registry {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Registry{stdout: stdout, stderr: stderr}
}

// Resolve parses a destination string and returns the Sink to deliver to.
// Unrecognized schemes return a Configuration error; webhook, s3 and db
// resolve to stub sinks whose Deliver returns ErrNotImplemented.
func (r *Registry) Resolve(destination string) (Sink, error) {
	scheme, rest, _ := strings.Cut(destination, ":")
	switch scheme {
	case "stdio":
		stream := r.stdout
		if rest == "stderr" {
			stream = r.stderr
		}
		return &StdioSink{w: stream}, nil
	case "file":
		return &FileSink{path: rest}, nil
	case "webhook", "s3", "db":
		return &stubSink{scheme: scheme}, nil
	default:
		return nil, rerr.Newf(rerr.KindConfiguration, "unknown output destination scheme %q", scheme)
	}
}

// StdioSink writes one JSON line per delivery, matching the original's
// line-buffered JSON stdio destination.
type StdioSink struct {
	w io.Writer
}

func (s *StdioSink) Deliver(_ context.Context, p Payload) (Receipt, error) {
	line, err := json.Marshal(payloadEnvelope(p))
	if err != nil {
		return Receipt{}, rerr.Wrap(rerr.KindInternal, err)
	}
	if _, err := fmt.Fprintf(s.w, "%s\n", line); err != nil {
		return Receipt{}, rerr.Wrap(rerr.KindTransport, err)
	}
	return Receipt{Destination: "stdio", DeliveredAt: time.Now().UTC()}, nil
}

// FileSink appends one JSON line per delivery to a file, creating parent
// directories as needed.
type FileSink struct {
	path string
}

func (s *FileSink) Deliver(_ context.Context, p Payload) (Receipt, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Receipt{}, rerr.Wrap(rerr.KindInternal, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Receipt{}, rerr.Wrap(rerr.KindInternal, err)
	}
	defer f.Close()

	line, err := json.Marshal(payloadEnvelope(p))
	if err != nil {
		return Receipt{}, rerr.Wrap(rerr.KindInternal, err)
	}
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		return Receipt{}, rerr.Wrap(rerr.KindInternal, err)
	}
	return Receipt{Destination: "file:" + s.path, DeliveredAt: time.Now().UTC(), Detail: s.path}, nil
}

// stubSink covers destinations named in spec.md §1's push-interface
// sketch (webhook, S3, a durable DB sink) that are explicitly out of
// core scope; it exists so Resolve never fails on a recognized scheme,
// but every delivery attempt fails loudly rather than silently dropping
// output.
type stubSink struct {
	scheme string
}

func (s *stubSink) Deliver(context.Context, Payload) (Receipt, error) {
	return Receipt{}, rerr.Wrap(rerr.KindConfiguration, fmt.Errorf("%s sink: %w", s.scheme, rerr.ErrNotImplemented))
}

func payloadEnvelope(p Payload) map[string]any {
	return map[string]any{
		"job_id":       p.JobID,
		"task_id":      p.TaskID,
		"execution_id": p.ExecutionID,
		"task_name":    p.TaskName,
		"output":       p.Output,
		"completed_at": p.CompletedAt,
	}
}
