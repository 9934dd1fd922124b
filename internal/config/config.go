// Package config loads server and agent configuration from an optional YAML
// file, a .env file and the process environment, in increasing precedence.
package config

import (
	"bytes"
	stderrors "errors"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	"github.com/emarzona/backend/internal/sync/queue"
	"github.com/emarzona/backend/internal/sync/scheduler"
	"github.com/emarzona/backend/internal/telemetry"
)

// FileEnv names the variable holding the YAML config path.
const FileEnv = "EMARZONA_CONFIG"

// MinIdempotencyRetention is one day longer than the default client MaxAge,
// so a key outlives every action that can still be resubmitted.
var MinIdempotencyRetention = queue.DefaultCleanupPolicy().MaxAge + 24*time.Hour

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Port                 string        `yaml:"port"`
	DatabaseURL          string        `yaml:"database_url"`
	SQLitePath           string        `yaml:"sqlite_path"`
	JWTSecret            string        `yaml:"jwt_secret"`
	MaxBatchSize         int           `yaml:"max_batch_size"`
	IdempotencyRetention time.Duration `yaml:"idempotency_retention"`
	PruneInterval        time.Duration `yaml:"prune_interval"`
	MetricsExporter      string        `yaml:"metrics_exporter"`
	LogLevel             string        `yaml:"log_level"`
}

// AgentConfig configures cmd/agent and the CLI.
type AgentConfig struct {
	DataDir         string        `yaml:"data_dir"`
	ServerURL       string        `yaml:"server_url"`
	Token           string        `yaml:"token"`
	ListenAddr      string        `yaml:"listen_addr"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	BatchSize       int           `yaml:"batch_size"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ProbeInterval   time.Duration `yaml:"probe_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxRetries      int           `yaml:"max_retries"`
	MaxAge          time.Duration `yaml:"max_age"`
	SyncedRetention time.Duration `yaml:"synced_retention"`
	LogLevel        string        `yaml:"log_level"`
}

type fileConfig struct {
	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:                 "8080",
		SQLitePath:           "./data/server.db",
		MaxBatchSize:         50,
		IdempotencyRetention: 30 * 24 * time.Hour,
		PruneInterval:        time.Hour,
		MetricsExporter:      string(telemetry.ExporterPrometheus),
		LogLevel:             "info",
	}
}

// DefaultAgentConfig returns the agent defaults.
func DefaultAgentConfig() AgentConfig {
	sched := scheduler.DefaultSchedulerConfig()
	policy := queue.DefaultCleanupPolicy()
	return AgentConfig{
		DataDir:         "./data",
		ServerURL:       "http://localhost:8080",
		ListenAddr:      "127.0.0.1:8090",
		SyncInterval:    sched.SyncInterval,
		ReconnectDelay:  sched.ReconnectDelay,
		BatchSize:       sched.BatchSize,
		RequestTimeout:  sched.RequestTimeout,
		ProbeInterval:   15 * time.Second,
		CleanupInterval: time.Hour,
		MaxRetries:      policy.MaxRetries,
		MaxAge:          policy.MaxAge,
		SyncedRetention: policy.SyncedRetention,
		LogLevel:        "info",
	}
}

// LoadServer builds a ServerConfig from defaults, the YAML file and the environment.
func LoadServer() (*ServerConfig, error) {
	loadDotEnv()
	cfg := fileConfig{Server: DefaultServerConfig()}
	if err := readFile(os.Getenv(FileEnv), &cfg); err != nil {
		return nil, err
	}
	c := cfg.Server

	env := &envReader{}
	c.Port = getEnvWithDefault("PORT", c.Port)
	c.DatabaseURL = getEnvWithDefault("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnvWithDefault("SQLITE_PATH", c.SQLitePath)
	c.JWTSecret = getEnvWithDefault("JWT_SECRET", c.JWTSecret)
	c.MaxBatchSize = env.int("SYNC_MAX_BATCH_SIZE", c.MaxBatchSize)
	c.IdempotencyRetention = env.duration("IDEMPOTENCY_RETENTION", c.IdempotencyRetention)
	c.PruneInterval = env.duration("IDEMPOTENCY_PRUNE_INTERVAL", c.PruneInterval)
	c.MetricsExporter = getEnvWithDefault("METRICS_EXPORTER", c.MetricsExporter)
	c.LogLevel = getEnvWithDefault("LOG_LEVEL", c.LogLevel)
	if env.err != nil {
		return nil, env.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports the first invalid setting.
func (c *ServerConfig) Validate() error {
	switch {
	case c.Port == "":
		return errors.New(errors.ErrValidation, "port is required")
	case len(c.JWTSecret) < 16:
		return errors.New(errors.ErrValidation, "JWT_SECRET must be at least 16 bytes")
	case c.MaxBatchSize < 1 || c.MaxBatchSize > 500:
		return errors.Newf(errors.ErrValidation, "max batch size %d out of range [1, 500]", c.MaxBatchSize)
	case c.IdempotencyRetention < MinIdempotencyRetention:
		return errors.Newf(errors.ErrValidation, "idempotency retention must be at least %s", MinIdempotencyRetention)
	case c.PruneInterval <= 0:
		return errors.New(errors.ErrValidation, "prune interval must be positive")
	case c.DatabaseURL == "" && c.SQLitePath == "":
		return errors.New(errors.ErrValidation, "either DATABASE_URL or SQLITE_PATH is required")
	}
	if _, err := telemetry.ParseExporter(c.MetricsExporter); err != nil {
		return errors.Wrap(errors.ErrValidation, "metrics exporter", err)
	}
	return nil
}

// LoadAgent builds an AgentConfig from defaults, the YAML file and the environment.
func LoadAgent() (*AgentConfig, error) {
	loadDotEnv()
	cfg := fileConfig{Agent: DefaultAgentConfig()}
	if err := readFile(os.Getenv(FileEnv), &cfg); err != nil {
		return nil, err
	}
	c := cfg.Agent

	env := &envReader{}
	c.DataDir = getEnvWithDefault("EMARZONA_DATA_DIR", c.DataDir)
	c.ServerURL = getEnvWithDefault("EMARZONA_SERVER_URL", c.ServerURL)
	c.Token = getEnvWithDefault("EMARZONA_TOKEN", c.Token)
	c.ListenAddr = getEnvWithDefault("EMARZONA_LISTEN_ADDR", c.ListenAddr)
	c.SyncInterval = env.duration("SYNC_INTERVAL", c.SyncInterval)
	c.ReconnectDelay = env.duration("SYNC_RECONNECT_DELAY", c.ReconnectDelay)
	c.BatchSize = env.int("SYNC_BATCH_SIZE", c.BatchSize)
	c.RequestTimeout = env.duration("SYNC_REQUEST_TIMEOUT", c.RequestTimeout)
	c.ProbeInterval = env.duration("PROBE_INTERVAL", c.ProbeInterval)
	c.CleanupInterval = env.duration("CLEANUP_INTERVAL", c.CleanupInterval)
	c.MaxRetries = env.int("QUEUE_MAX_RETRIES", c.MaxRetries)
	c.MaxAge = env.duration("QUEUE_MAX_AGE", c.MaxAge)
	c.SyncedRetention = env.duration("QUEUE_SYNCED_RETENTION", c.SyncedRetention)
	c.LogLevel = getEnvWithDefault("LOG_LEVEL", c.LogLevel)
	if env.err != nil {
		return nil, env.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports the first invalid setting.
func (c *AgentConfig) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrValidation, "data dir is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Newf(errors.ErrValidation, "server url %q must be an absolute http(s) URL", c.ServerURL)
	}
	switch {
	case c.BatchSize < 1 || c.BatchSize > 500:
		return errors.Newf(errors.ErrValidation, "batch size %d out of range [1, 500]", c.BatchSize)
	case c.SyncInterval <= 0, c.ReconnectDelay < 0, c.RequestTimeout <= 0,
		c.ProbeInterval <= 0, c.CleanupInterval <= 0:
		return errors.New(errors.ErrValidation, "sync and probe intervals must be positive")
	case c.MaxRetries < 1 || c.MaxAge <= 0 || c.SyncedRetention <= 0:
		return errors.New(errors.ErrValidation, "cleanup policy thresholds must be positive")
	}
	return nil
}

// SchedulerConfig converts the agent settings for scheduler.NewScheduler.
func (c *AgentConfig) SchedulerConfig() *scheduler.SchedulerConfig {
	sc := scheduler.DefaultSchedulerConfig()
	sc.SyncInterval = c.SyncInterval
	sc.ReconnectDelay = c.ReconnectDelay
	sc.BatchSize = c.BatchSize
	sc.RequestTimeout = c.RequestTimeout
	return sc
}

// CleanupPolicy converts the agent settings for the local queue.
func (c *AgentConfig) CleanupPolicy() queue.CleanupPolicy {
	return queue.CleanupPolicy{
		MaxRetries:      c.MaxRetries,
		MaxAge:          c.MaxAge,
		SyncedRetention: c.SyncedRetention,
	}
}

// loadDotEnv loads .env without overriding variables already set.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return
		}
		logging.Warn("Could not load .env file, continuing with system environment variables only",
			map[string]interface{}{"error": err.Error()})
	}
}

func readFile(path string, out *fileConfig) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "read config file", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(errors.ErrInvalid, "parse config file "+path, err)
	}
	return nil
}

// getEnvWithDefault gets an environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and keeps the first failure.
type envReader struct {
	err error
}

func (r *envReader) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return v
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return v
}

func (r *envReader) fail(key, raw string, err error) {
	if r.err == nil {
		r.err = errors.Wrap(errors.ErrInvalid, key+"="+strconv.Quote(raw), err)
	}
}
