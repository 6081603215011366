package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInit_WritesStructuredEntriesToBuffer(t *testing.T) {
	flush, err := Init(Config{Development: true, Level: zapcore.DebugLevel, BufferSize: 8})
	require.NoError(t, err)
	defer flush()

	Info(CatEngine, "dispatching job", "job_id", "abc-123")

	entries := GetRecentLogs(1)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0], "dispatching job")
	require.Contains(t, entries[0], "abc-123")
}

func TestSetEnabled_SuppressesLogging(t *testing.T) {
	flush, err := Init(Config{Development: true, Level: zapcore.DebugLevel, BufferSize: 8})
	require.NoError(t, err)
	defer flush()

	ClearBuffer()
	SetEnabled(false)
	defer SetEnabled(true)

	Info(CatEngine, "should not appear")
	require.Empty(t, GetRecentLogs(10))
}

func TestGetRecentLogs_RespectsRingBufferCapacity(t *testing.T) {
	_, err := Init(Config{Development: true, Level: zapcore.DebugLevel, BufferSize: 2})
	require.NoError(t, err)

	ClearBuffer()
	Info(CatQueue, "first")
	Info(CatQueue, "second")
	Info(CatQueue, "third")

	entries := GetRecentLogs(10)
	require.Len(t, entries, 2)
	require.Contains(t, entries[0], "second")
	require.Contains(t, entries[1], "third")
}
