// Package config loads worldsync.yaml and overlays WORLDSYNC_* environment
// variables on top of it.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/worldsync"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WORLDSYNC_"

// Config is the worldsyncd configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Redis         RedisConfig         `yaml:"redis" envPrefix:"REDIS_"`
	Catalog       CatalogConfig       `yaml:"catalog" envPrefix:"CATALOG_"`
	Memory        MemoryConfig        `yaml:"memory" envPrefix:"MEMORY_"`
	LLM           LLMConfig           `yaml:"llm" envPrefix:"LLM_"`
	Groups        GroupsConfig        `yaml:"groups" envPrefix:"GROUPS_"`
	Conversations ConversationsConfig `yaml:"conversations" envPrefix:"CONVERSATIONS_"`
	Queue         QueueConfig         `yaml:"queue" envPrefix:"QUEUE_"`
	Worker        WorkerConfig        `yaml:"worker" envPrefix:"WORKER_"`
	Journal       JournalConfig       `yaml:"journal" envPrefix:"JOURNAL_"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Log           LogConfig           `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig holds the listening endpoints.
type ServerConfig struct {
	// WebsocketAddr is the ingress listen address. Default: ":8080"
	WebsocketAddr string `yaml:"websocket_addr,omitempty" env:"WEBSOCKET_ADDR"`

	// WebsocketPath is the ingress route. Default: "/ws"
	WebsocketPath string `yaml:"websocket_path,omitempty" env:"WEBSOCKET_PATH"`

	// HealthPort is the gRPC health port. Default: 50051
	HealthPort int `yaml:"health_port,omitempty" env:"HEALTH_PORT"`
}

// RedisConfig enables the Redis feed when URL is set.
type RedisConfig struct {
	URL            string `yaml:"url,omitempty" env:"URL"`
	ItemsKey       string `yaml:"items_key,omitempty" env:"ITEMS_KEY"`
	RepliesChannel string `yaml:"replies_channel,omitempty" env:"REPLIES_CHANNEL"`
}

// CatalogConfig locates the SQLite world catalog.
type CatalogConfig struct {
	// Path is the SQLite file. Default: "worldsync.db"
	Path string `yaml:"path,omitempty" env:"PATH"`

	// SeedFile optionally names a YAML file imported at startup.
	SeedFile string `yaml:"seed_file,omitempty" env:"SEED_FILE"`

	// RefreshInterval format: Go duration string. Default: 1m
	RefreshInterval string `yaml:"refresh_interval,omitempty" env:"REFRESH_INTERVAL"`
}

// MemoryConfig points at the agent memory service.
type MemoryConfig struct {
	BaseURL string `yaml:"base_url,omitempty" env:"BASE_URL"`
	Token   string `yaml:"token,omitempty" env:"TOKEN"`

	// Timeout format: Go duration string. Default: 10s
	Timeout string `yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// LLMConfig configures the fallback chat model.
type LLMConfig struct {
	APIKey      string   `yaml:"api_key,omitempty" env:"API_KEY"`
	Model       string   `yaml:"model,omitempty" env:"MODEL"`
	BaseURL     string   `yaml:"base_url,omitempty" env:"BASE_URL"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" env:"MAX_TOKENS"`
	Temperature *float64 `yaml:"temperature,omitempty" env:"TEMPERATURE"`

	// Timeout format: Go duration string. Default: 30s
	Timeout string `yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// GroupsConfig tunes group membership tracking.
type GroupsConfig struct {
	// GraceTimeout format: Go duration string. Default: 300s
	GraceTimeout string `yaml:"grace_timeout,omitempty" env:"GRACE_TIMEOUT"`

	// CallTimeout bounds each member upsert. Default: 10s
	CallTimeout string `yaml:"call_timeout,omitempty" env:"CALL_TIMEOUT"`
}

// ConversationsConfig tunes the session manager.
type ConversationsConfig struct {
	// Expiry format: Go duration string. Default: 30m
	Expiry string `yaml:"expiry,omitempty" env:"EXPIRY"`

	// SweepInterval format: Go duration string. Default: 5m
	SweepInterval string `yaml:"sweep_interval,omitempty" env:"SWEEP_INTERVAL"`

	// HistoryLimit caps the lines sent to the model. Default: 20
	HistoryLimit int `yaml:"history_limit,omitempty" env:"HISTORY_LIMIT"`
}

// QueueConfig tunes snapshot rate observation.
type QueueConfig struct {
	// RateWindow format: Go duration string. Default: 2s
	RateWindow string `yaml:"rate_window,omitempty" env:"RATE_WINDOW"`

	// RateTarget is snapshots per second. Default: 1
	RateTarget float64 `yaml:"rate_target,omitempty" env:"RATE_TARGET"`

	// DiagnosticsEvery is snapshots between diagnostics lines. Default: 10
	DiagnosticsEvery int `yaml:"diagnostics_every,omitempty" env:"DIAGNOSTICS_EVERY"`
}

// WorkerConfig defines the processing loops.
type WorkerConfig struct {
	// ChatConcurrency is the number of chat workers. Default: 4
	ChatConcurrency int `yaml:"chat_concurrency,omitempty" env:"CHAT_CONCURRENCY"`

	// ShutdownTimeout format: Go duration string. Default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty" env:"SHUTDOWN_TIMEOUT"`

	// HeartbeatInterval format: Go duration string. Default: 10s
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty" env:"HEARTBEAT_INTERVAL"`
}

// JournalConfig enables the narrative journal when Dir is set.
type JournalConfig struct {
	Dir string `yaml:"dir,omitempty" env:"DIR"`
}

// TelemetryConfig enables OTLP tracing when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint,omitempty" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name,omitempty" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty" env:"SAMPLE_RATIO"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty" env:"LEVEL"`

	// Format is json or text. Default: json
	Format string `yaml:"format,omitempty" env:"FORMAT"`
}

// Load reads worldsync.yaml from path and overlays the environment. If path
// is a directory, worldsync.yaml or worldsync.yml inside it is used. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (*Config, error) {
	var cfg Config
	if path != "" {
		configPath, err := resolve(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, worldsync.NewConfigurationError("config.Load",
				fmt.Errorf("%w: failed to parse config file: %v", worldsync.ErrInvalidConfig, err))
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, worldsync.NewConfigurationError("config.Load",
			fmt.Errorf("%w: parse env: %v", worldsync.ErrInvalidConfig, err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}
	for _, name := range []string{"worldsync.yaml", "worldsync.yml"} {
		p := filepath.Join(path, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no worldsync.yaml or worldsync.yml found in %s", path)
}

// Validate reports malformed durations and out-of-range values.
func (c *Config) Validate() error {
	durations := map[string]string{
		"catalog.refresh_interval":     c.Catalog.RefreshInterval,
		"memory.timeout":               c.Memory.Timeout,
		"llm.timeout":                  c.LLM.Timeout,
		"groups.grace_timeout":         c.Groups.GraceTimeout,
		"groups.call_timeout":          c.Groups.CallTimeout,
		"conversations.expiry":         c.Conversations.Expiry,
		"conversations.sweep_interval": c.Conversations.SweepInterval,
		"queue.rate_window":            c.Queue.RateWindow,
		"worker.shutdown_timeout":      c.Worker.ShutdownTimeout,
		"worker.heartbeat_interval":    c.Worker.HeartbeatInterval,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid("%s: %v", field, err)
		}
		if d <= 0 {
			return invalid("%s must be positive", field)
		}
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return invalid("telemetry.sample_ratio %v outside [0,1]", r)
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return invalid("llm.temperature %v outside [0,2]", *t)
	}
	if c.Queue.RateTarget < 0 {
		return invalid("queue.rate_target must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return invalid("log.format %q is not json or text", c.Log.Format)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return worldsync.NewConfigurationError("Config.Validate",
		fmt.Errorf("%w: %s", worldsync.ErrInvalidConfig, fmt.Sprintf(format, args...)))
}

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetWebsocketAddr returns the ingress address or ":8080".
func (s ServerConfig) GetWebsocketAddr() string {
	if s.WebsocketAddr == "" {
		return ":8080"
	}
	return s.WebsocketAddr
}

// GetWebsocketPath returns the ingress route or "/ws".
func (s ServerConfig) GetWebsocketPath() string {
	if s.WebsocketPath == "" {
		return "/ws"
	}
	return s.WebsocketPath
}

// GetHealthPort returns the gRPC health port or 50051.
func (s ServerConfig) GetHealthPort() int {
	if s.HealthPort <= 0 {
		return 50051
	}
	return s.HealthPort
}

// GetPath returns the catalog file or "worldsync.db".
func (c CatalogConfig) GetPath() string {
	if c.Path == "" {
		return "worldsync.db"
	}
	return c.Path
}

func (c CatalogConfig) GetRefreshInterval() time.Duration {
	return duration(c.RefreshInterval, time.Minute)
}

func (m MemoryConfig) GetTimeout() time.Duration {
	return duration(m.Timeout, 10*time.Second)
}

func (l LLMConfig) GetTimeout() time.Duration {
	return duration(l.Timeout, 30*time.Second)
}

// GetMaxTokens returns the reply token cap or 200.
func (l LLMConfig) GetMaxTokens() int {
	if l.MaxTokens <= 0 {
		return 200
	}
	return l.MaxTokens
}

// GetTemperature returns the sampling temperature or 0.7.
func (l LLMConfig) GetTemperature() float64 {
	if l.Temperature == nil {
		return 0.7
	}
	return *l.Temperature
}

func (g GroupsConfig) GetGraceTimeout() time.Duration {
	return duration(g.GraceTimeout, 300*time.Second)
}

func (g GroupsConfig) GetCallTimeout() time.Duration {
	return duration(g.CallTimeout, 10*time.Second)
}

func (c ConversationsConfig) GetExpiry() time.Duration {
	return duration(c.Expiry, 30*time.Minute)
}

func (c ConversationsConfig) GetSweepInterval() time.Duration {
	return duration(c.SweepInterval, 5*time.Minute)
}

func (c ConversationsConfig) GetHistoryLimit() int {
	if c.HistoryLimit <= 0 {
		return 20
	}
	return c.HistoryLimit
}

func (q QueueConfig) GetRateWindow() time.Duration {
	return duration(q.RateWindow, 2*time.Second)
}

func (q QueueConfig) GetRateTarget() float64 {
	if q.RateTarget <= 0 {
		return 1
	}
	return q.RateTarget
}

// GetDiagnosticsEvery returns the diagnostics cadence or 10.
func (q QueueConfig) GetDiagnosticsEvery() int {
	if q.DiagnosticsEvery <= 0 {
		return 10
	}
	return q.DiagnosticsEvery
}

func (w WorkerConfig) GetChatConcurrency() int {
	if w.ChatConcurrency <= 0 {
		return 4
	}
	return w.ChatConcurrency
}

func (w WorkerConfig) GetShutdownTimeout() time.Duration {
	return duration(w.ShutdownTimeout, 30*time.Second)
}

func (w WorkerConfig) GetHeartbeatInterval() time.Duration {
	return duration(w.HeartbeatInterval, 10*time.Second)
}

// GetServiceName returns the OTLP service name or "worldsyncd".
func (t TelemetryConfig) GetServiceName() string {
	if t.ServiceName == "" {
		return "worldsyncd"
	}
	return t.ServiceName
}

// GetSampleRatio returns the trace sample ratio, 1 when unset.
func (t TelemetryConfig) GetSampleRatio() float64 {
	if t.SampleRatio <= 0 {
		return 1
	}
	return t.SampleRatio
}

// GetLevel parses Level, falling back to info.
func (l LogConfig) GetLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.GetLevel()}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
