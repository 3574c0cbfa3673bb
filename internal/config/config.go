package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vango-dev/sigsync/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "sigsync.yaml"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// DefaultURL is the default server endpoint for clients.
	DefaultURL = "ws://localhost:8080/sync"

	// DefaultRedisAddr is the default Redis address.
	DefaultRedisAddr = "localhost:6379"

	// DefaultRedisChannel is the default Pub/Sub channel.
	DefaultRedisChannel = "sigsync:signals"

	// DefaultIDLength matches signals.DefaultIDLength.
	DefaultIDLength = 8
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportPipe      = "pipe"
)

// Config represents the complete sigsync.yaml configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Signals   SignalsConfig   `yaml:"signals"`
	Derived   []DerivedConfig `yaml:"derived,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains settings for `sigsync serve`.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// AllowAnyOrigin disables the same-origin check on /sync.
	AllowAnyOrigin bool `yaml:"allow_any_origin,omitempty"`

	// ReadTimeout is how long a peer may stay silent.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Heartbeat is the ping interval. Must be below ReadTimeout.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportConfig selects how clients reach other contexts.
type TransportConfig struct {
	// Kind is websocket, redis or pipe. pipe runs the host in-process,
	// seeded from Signals and Derived.
	Kind string `yaml:"kind"`

	// URL is the server endpoint for websocket clients.
	URL string `yaml:"url"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis Pub/Sub settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Channel  string `yaml:"channel"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TracerName string `yaml:"tracer_name"`
}

// SignalsConfig contains settings for the host context.
type SignalsConfig struct {
	// IDLength is the length of generated signal ids.
	IDLength int `yaml:"id_length"`

	// Initial are named signals created at startup.
	Initial map[string]any `yaml:"initial,omitempty"`
}

// DerivedConfig is a named expression over the initial signals.
type DerivedConfig struct {
	ID   string `yaml:"id"`
	Expr string `yaml:"expr"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			Heartbeat:       20 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Transport: TransportConfig{
			Kind: TransportWebSocket,
			URL:  DefaultURL,
			Redis: RedisConfig{
				Addr:    DefaultRedisAddr,
				Channel: DefaultRedisChannel,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "sigsync",
		},
		Tracing: TracingConfig{
			TracerName: "sigsync",
		},
		Signals: SignalsConfig{
			IDLength: DefaultIDLength,
		},
	}
}

// Load reads sigsync.yaml from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path. ${VAR}
// references are expanded from the environment before parsing.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("E100").
				WithDetail("No " + ConfigFileName + " found at " + path)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := New()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, errors.New("E101").
			WithDetail("Failed to parse " + path + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// Resolve builds the effective configuration. envFile is loaded first if
// present. An empty path means ./sigsync.yaml when it exists and defaults
// otherwise. Environment overrides are applied last, then the result is
// validated.
func Resolve(path, envFile string) (*Config, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	var cfg *Config
	switch {
	case path != "":
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case Exists("."):
		loaded, err := Load(".")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		cfg = New()
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads environment variables from path. A missing file is
// not an error so .env files stay optional.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || stderrors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return errors.New("E104").Wrap(err)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.New("E101").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E101").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.Heartbeat == 0 {
		c.Server.Heartbeat = d.Server.Heartbeat
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = d.Transport.Kind
	}
	if c.Transport.URL == "" {
		c.Transport.URL = d.Transport.URL
	}
	if c.Transport.Redis.Addr == "" {
		c.Transport.Redis.Addr = d.Transport.Redis.Addr
	}
	if c.Transport.Redis.Channel == "" {
		c.Transport.Redis.Channel = d.Transport.Redis.Channel
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = d.Tracing.TracerName
	}
	if c.Signals.IDLength == 0 {
		c.Signals.IDLength = d.Signals.IDLength
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.Heartbeat > 0 && c.Server.ReadTimeout > 0 && c.Server.Heartbeat >= c.Server.ReadTimeout {
		problems = append(problems, "server.heartbeat must be shorter than server.read_timeout")
	}

	switch c.Transport.Kind {
	case TransportWebSocket, TransportRedis, TransportPipe:
	default:
		return errors.New("E203").WithDetailf("transport.kind %q: must be websocket, redis or pipe", c.Transport.Kind)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("log.format %q: must be text or json", c.Log.Format))
	}
	if c.Signals.IDLength < 1 || c.Signals.IDLength > 64 {
		problems = append(problems, "signals.id_length must be between 1 and 64")
	}

	seen := make(map[string]bool, len(c.Derived))
	for i, d := range c.Derived {
		switch {
		case d.ID == "":
			problems = append(problems, fmt.Sprintf("derived[%d]: id is required", i))
		case d.Expr == "":
			problems = append(problems, fmt.Sprintf("derived %q: expr is required", d.ID))
		case seen[d.ID]:
			problems = append(problems, fmt.Sprintf("derived %q: duplicate id", d.ID))
		}
		if _, ok := c.Signals.Initial[d.ID]; ok {
			problems = append(problems, fmt.Sprintf("derived %q: id collides with an initial signal", d.ID))
		}
		seen[d.ID] = true
	}

	if len(problems) > 0 {
		return errors.New("E102").WithDetail(strings.Join(problems, "; "))
	}
	return nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}

// NewLogger builds a logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
