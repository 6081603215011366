// Package log provides structured logging for the coordinator and workers.
// It wraps go.uber.org/zap with category fields and keeps a ring buffer of
// recent entries for the console dashboard's log overlay.
package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category groups related log messages, mirroring the components in the
// execution pipeline.
type Category string

const (
	CatCoordinator Category = "coordinator"
	CatPool        Category = "pool"
	CatWorker      Category = "worker"
	CatQueue       Category = "queue"
	CatScheduler   Category = "scheduler"
	CatEngine      Category = "engine"
	CatIPC         Category = "ipc"
	CatMCP         Category = "mcp"
	CatStore       Category = "store"
	CatConfig      Category = "config"
	CatShutdown    Category = "shutdown"
	CatJSRuntime   Category = "jsruntime"
)

// ringCore is a zapcore.Core that additionally appends formatted entries to
// a RingBuffer, so the console TUI can render the most recent log lines
// without tailing a file.
type ringCore struct {
	zapcore.Core
	buf *RingBuffer
	enc zapcore.Encoder
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	return &ringCore{Core: c.Core.With(fields), buf: c.buf, enc: c.enc}
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.buf != nil {
		buf, err := c.enc.EncodeEntry(ent, fields)
		if err == nil {
			c.buf.Add(strings.TrimRight(buf.String(), "\n"))
			buf.Free()
		}
	}
	return c.Core.Write(ent, fields)
}

var (
	mu       sync.RWMutex
	logger   *zap.Logger
	buffer   = NewRingBuffer(512)
	enabled  = true
	atomLvl  zap.AtomicLevel
)

// Config controls logger construction. Development renders human-readable,
// colorized console output; otherwise JSON is used (suitable for ingestion).
type Config struct {
	Development bool
	Level       zapcore.Level
	OutputPaths []string
	BufferSize  int
}

// Init builds and installs the global logger. Returns a flush function that
// should be deferred by the caller.
func Init(cfg Config) (func(), error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level)
	zcfg.OutputPaths = cfg.OutputPaths

	base, err := zcfg.Build()
	if err != nil {
		return func() {}, err
	}

	rb := NewRingBuffer(cfg.BufferSize)
	encCfg := zcfg.EncoderConfig
	enc := zapcore.NewConsoleEncoder(encCfg)

	l := zap.New(&ringCore{Core: base.Core(), buf: rb, enc: enc})

	mu.Lock()
	logger = l
	buffer = rb
	atomLvl = zcfg.Level
	mu.Unlock()

	return func() { _ = l.Sync() }, nil
}

// SetLevel changes the minimum level the installed logger emits, without
// rebuilding it. Used by internal/config's hot reload to apply a new
// log.level from the watched configuration file immediately.
func SetLevel(lvl zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		atomLvl.SetLevel(lvl)
	}
}

// SetEnabled toggles logging on/off globally; disabled logging is a no-op.
func SetEnabled(v bool) {
	mu.Lock()
	enabled = v
	mu.Unlock()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return nil
	}
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func fieldsOf(cat Category, kv []any) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2+1)
	fields = append(fields, zap.String("category", string(cat)))
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, zap.Any(toKey(kv[i]), kv[i+1]))
	}
	if len(kv)%2 != 0 {
		fields = append(fields, zap.Any(toKey(kv[len(kv)-1]), "<missing>"))
	}
	return fields
}

func toKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "field"
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	if l := current(); l != nil {
		l.Debug(msg, fieldsOf(cat, fields)...)
	}
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	if l := current(); l != nil {
		l.Info(msg, fieldsOf(cat, fields)...)
	}
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	if l := current(); l != nil {
		l.Warn(msg, fieldsOf(cat, fields)...)
	}
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	if l := current(); l != nil {
		l.Error(msg, fieldsOf(cat, fields)...)
	}
}

// ErrorErr logs an error with the error value attached.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	Error(cat, msg, fields...)
}

// GetRecentLogs returns the last n formatted log entries for the console
// dashboard's log overlay.
func GetRecentLogs(n int) []string {
	mu.RLock()
	b := buffer
	mu.RUnlock()
	if b == nil {
		return nil
	}
	return b.GetLast(n)
}

// ClearBuffer empties the ring buffer.
func ClearBuffer() {
	mu.RLock()
	b := buffer
	mu.RUnlock()
	if b != nil {
		b.Clear()
	}
}
