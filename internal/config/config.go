// Package config loads and hot-reloads the coordinator's configuration
// (SPEC_FULL.md §[EXPANSION] AMBIENT STACK "Configuration"). The teacher's
// go.mod carries spf13/viper and fsnotify as direct dependencies but never
// actually imports them anywhere in its retrieved source; this package is
// the first real use of both, built from the library's own documented
// conventions rather than adapted from a teacher call site (see DESIGN.md).
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/ratchetdata/ratchet/internal/engine"
	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/pool"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/sanitize"
)

// Config is the coordinator's full configuration tree, loaded from a YAML
// file plus RATCHET_-prefixed environment overrides (§4.1, §4.9, §4.10).
type Config struct {
	Storage Storage `mapstructure:"storage"`
	Pool    Pool    `mapstructure:"pool"`
	Engine  Engine  `mapstructure:"engine"`
	Queue   Queue   `mapstructure:"queue"`
	MCP     MCP     `mapstructure:"mcp"`
	Log     Log     `mapstructure:"log"`
}

type Storage struct {
	DSN string `mapstructure:"dsn"`
}

type Pool struct {
	Count               int           `mapstructure:"count"`
	RestartOnCrash      bool          `mapstructure:"restart_on_crash"`
	MaxRestartAttempts  int           `mapstructure:"max_restart_attempts"`
	RestartDelay        time.Duration `mapstructure:"restart_delay"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
}

type Engine struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type Queue struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
}

type MCP struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	RequireAuth      bool          `mapstructure:"require_auth"`
	SessionTimeout   time.Duration `mapstructure:"session_timeout"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
}

type Log struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Defaults mirrors every package-level DefaultConfig this coordinator
// wires, so a missing key in the YAML file still produces a runnable
// configuration.
func Defaults() Config {
	poolDefaults := pool.DefaultConfig()
	engineDefaults := engine.DefaultConfig()
	retryDefaults := queue.DefaultRetryPolicy()
	sanitizeDefaults := sanitize.DefaultConfig()

	return Config{
		Storage: Storage{DSN: "ratchetd.db"},
		Pool: Pool{
			Count:               poolDefaults.Count,
			RestartOnCrash:      poolDefaults.RestartOnCrash,
			MaxRestartAttempts:  poolDefaults.MaxRestartAttempts,
			RestartDelay:        poolDefaults.RestartDelay,
			HealthCheckInterval: poolDefaults.HealthCheckInterval,
			TaskTimeout:         poolDefaults.TaskTimeout,
			ShutdownTimeout:     poolDefaults.ShutdownTimeout,
		},
		Engine: Engine{
			BatchSize:    engineDefaults.BatchSize,
			PollInterval: engineDefaults.PollInterval,
		},
		Queue: Queue{
			InitialDelay: retryDefaults.InitialDelay,
			Multiplier:   retryDefaults.Multiplier,
			MaxDelay:     retryDefaults.MaxDelay,
			JitterFactor: retryDefaults.JitterFactor,
		},
		MCP: MCP{
			ListenAddr:       ":7733",
			RequireAuth:      false,
			SessionTimeout:   30 * time.Minute,
			MaxMessageLength: sanitizeDefaults.MaxMessageLength,
		},
		Log: Log{Development: true, Level: "info"},
	}
}

// ToPoolConfig, ToEngineConfig, ToRetryPolicy, and ToSanitizeConfig adapt
// the loaded tree back into each package's own Config type, so callers
// never have to know the mapstructure field names.
func (c Config) ToPoolConfig() pool.Config {
	return pool.Config{
		Count:               c.Pool.Count,
		RestartOnCrash:      c.Pool.RestartOnCrash,
		MaxRestartAttempts:  c.Pool.MaxRestartAttempts,
		RestartDelay:        c.Pool.RestartDelay,
		HealthCheckInterval: c.Pool.HealthCheckInterval,
		TaskTimeout:         c.Pool.TaskTimeout,
		ShutdownTimeout:     c.Pool.ShutdownTimeout,
	}
}

func (c Config) ToEngineConfig() engine.Config {
	return engine.Config{
		PoolSize:     c.Pool.Count,
		BatchSize:    c.Engine.BatchSize,
		PollInterval: c.Engine.PollInterval,
		TaskTimeout:  c.Pool.TaskTimeout,
	}
}

func (c Config) ToRetryPolicy() queue.RetryPolicy {
	return queue.RetryPolicy{
		InitialDelay: c.Queue.InitialDelay,
		Multiplier:   c.Queue.Multiplier,
		MaxDelay:     c.Queue.MaxDelay,
		JitterFactor: c.Queue.JitterFactor,
	}
}

func (c Config) ToSanitizeConfig() sanitize.Config {
	base := sanitize.DefaultConfig()
	base.MaxMessageLength = c.MCP.MaxMessageLength
	return base
}

func (c Config) ZapLevel() zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Loader owns the viper instance backing Config, and the fsnotify-driven
// hot reload of its mutable fields (log level, sanitizer max message
// length) — the fields an operator plausibly wants to tune without
// restarting the coordinator. Queue backoff knobs are read once by
// queue.New and are not re-applied on reload.
type Loader struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur Config

	onReload []func(Config)
}

// Load reads path (if non-empty) and RATCHET_-prefixed environment
// variables on top of Defaults(), and starts watching path for changes.
// An empty path loads Defaults()+environment only, with no file watch.
func Load(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix("RATCHET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	l := &Loader{v: v}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cur = cfg

	if path != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			l.reload()
		})
		v.WatchConfig()
	}

	return l, nil
}

// setDefaults seeds viper with Defaults() so any key absent from the file
// or environment still resolves.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("pool.count", d.Pool.Count)
	v.SetDefault("pool.restart_on_crash", d.Pool.RestartOnCrash)
	v.SetDefault("pool.max_restart_attempts", d.Pool.MaxRestartAttempts)
	v.SetDefault("pool.restart_delay", d.Pool.RestartDelay)
	v.SetDefault("pool.health_check_interval", d.Pool.HealthCheckInterval)
	v.SetDefault("pool.task_timeout", d.Pool.TaskTimeout)
	v.SetDefault("pool.shutdown_timeout", d.Pool.ShutdownTimeout)
	v.SetDefault("engine.batch_size", d.Engine.BatchSize)
	v.SetDefault("engine.poll_interval", d.Engine.PollInterval)
	v.SetDefault("queue.initial_delay", d.Queue.InitialDelay)
	v.SetDefault("queue.multiplier", d.Queue.Multiplier)
	v.SetDefault("queue.max_delay", d.Queue.MaxDelay)
	v.SetDefault("queue.jitter_factor", d.Queue.JitterFactor)
	v.SetDefault("mcp.listen_addr", d.MCP.ListenAddr)
	v.SetDefault("mcp.require_auth", d.MCP.RequireAuth)
	v.SetDefault("mcp.session_timeout", d.MCP.SessionTimeout)
	v.SetDefault("mcp.max_message_length", d.MCP.MaxMessageLength)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.level", d.Log.Level)
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w", err)
	}
	return cfg, nil
}

func (l *Loader) reload() {
	cfg, err := l.decode()
	if err != nil {
		log.ErrorErr(log.CatConfig, "config: reload failed, keeping previous configuration", err)
		return
	}
	l.mu.Lock()
	l.cur = cfg
	callbacks := append([]func(Config){}, l.onReload...)
	l.mu.Unlock()

	log.Info(log.CatConfig, "configuration reloaded")
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// OnReload registers a callback invoked with the new Config every time
// the watched file changes. Callbacks are expected to only act on the
// mutable fields (log level, sanitizer length) — pool size, storage DSN,
// MCP listen address, and queue backoff take effect on next restart.
func (l *Loader) OnReload(cb func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = append(l.onReload, cb)
}
