package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/rerr"
)

func TestStdioSinkWritesOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry(&buf, &buf)
	sink, err := reg.Resolve("stdio:stdout")
	require.NoError(t, err)

	_, err = sink.Deliver(context.Background(), Payload{JobID: 1, TaskID: 2, ExecutionID: 3, TaskName: "echo", Output: json.RawMessage(`{"ok":true}`), CompletedAt: time.Now()})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "echo", decoded["task_name"])
	assert.Equal(t, float64(1), decoded["job_id"])
}

func TestFileSinkAppendsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.jsonl")
	reg := NewRegistry(nil, nil)
	sink, err := reg.Resolve("file:" + path)
	require.NoError(t, err)

	_, err = sink.Deliver(context.Background(), Payload{JobID: 1, TaskName: "t"})
	require.NoError(t, err)
	_, err = sink.Deliver(context.Background(), Payload{JobID: 2, TaskName: "t"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestWebhookSinkIsUnimplemented(t *testing.T) {
	reg := NewRegistry(nil, nil)
	sink, err := reg.Resolve("webhook:https://example.com/hook")
	require.NoError(t, err)

	_, err = sink.Deliver(context.Background(), Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.ErrNotImplemented))
}

func TestUnknownSchemeRejected(t *testing.T) {
	reg := NewRegistry(nil, nil)
	_, err := reg.Resolve("ftp:somewhere")
	require.Error(t, err)
}

