// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load and ResolvePath.
const (
	EnvConfigPath = "CHAT_GATEWAY_CONFIG"
	EnvDBPath     = "CHAT_DB_PATH"
	EnvMongoURI   = "MONGODB_URI"
)

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Auth modes.
const (
	AuthModeToken    = "token"
	AuthModeInsecure = "insecure"
)

const minSecretLength = 32

// Config represents the complete chat-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve TLS with tailnet certificates on :443
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig selects and configures the conversation store
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite (default) or mongo
	Path   string `yaml:"path" toml:"path"`     // sqlite file
	URI    string `yaml:"uri" toml:"uri"`       // mongo connection string
	Name   string `yaml:"name" toml:"name"`     // mongo database name
}

// AuthConfig holds session authority configuration
type AuthConfig struct {
	Mode      string        `yaml:"mode" toml:"mode"`
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// SessionsConfig holds per-connection tuning
type SessionsConfig struct {
	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeout  time.Duration `yaml:"-" toml:"-"`
	PingInterval    time.Duration `yaml:"-" toml:"-"`
	PongTimeout     time.Duration `yaml:"-" toml:"-"`
	DedupeTTL       time.Duration `yaml:"-" toml:"-"`
	ReadLimit       int64         `yaml:"read_limit" toml:"read_limit"`
	SendBuffer      int           `yaml:"send_buffer" toml:"send_buffer"`
	DedupeSize      int           `yaml:"dedupe_size" toml:"dedupe_size"`
	CloseSuperseded bool          `yaml:"close_superseded" toml:"close_superseded"`

	// Raw string values for unmarshaling
	WriteTimeoutRaw   string `yaml:"write_timeout" toml:"write_timeout"`
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	PingIntervalRaw   string `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeoutRaw    string `yaml:"pong_timeout" toml:"pong_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// ResolvePath returns the config file to load: the explicit path if given,
// then $CHAT_GATEWAY_CONFIG, then the first of ./config.yaml, ./config.toml
// and ~/.config/chat-gateway/gateway.yaml that exists.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}

	candidates := []string{"config.yaml", "config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chat-gateway", "gateway.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config file found (set %s or create config.yaml)", EnvConfigPath)
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes and validates the result.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Database.Path = p
	}
	if uri := os.Getenv(EnvMongoURI); uri != "" {
		cfg.Database.URI = uri
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "0.0.0.0:8000"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.Path == "" {
		cfg.Database.Path = "chat-gateway.db"
	}
	if cfg.Database.Driver == DriverMongo && cfg.Database.Name == "" {
		cfg.Database.Name = "chat_application"
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeToken
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}

	s := &cfg.Sessions
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 5 * time.Second
	}
	if s.PingInterval == 0 {
		s.PingInterval = 30 * time.Second
	}
	if s.PongTimeout == 0 {
		s.PongTimeout = 60 * time.Second
	}
	if s.ReadLimit == 0 {
		s.ReadLimit = 1 << 20
	}
	if s.SendBuffer == 0 {
		s.SendBuffer = 128
	}
	if s.DedupeTTL == 0 {
		s.DedupeTTL = 5 * time.Minute
	}
	if s.DedupeSize == 0 {
		s.DedupeSize = 10000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMongo:
		if c.Database.URI == "" {
			return fmt.Errorf("database.uri (or %s) is required for the mongo driver", EnvMongoURI)
		}
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, mongo", c.Database.Driver)
	}

	switch c.Auth.Mode {
	case AuthModeToken:
		if len(c.Auth.JWTSecret) < minSecretLength {
			return fmt.Errorf("auth.jwt_secret must be at least %d bytes in token mode", minSecretLength)
		}
	case AuthModeInsecure:
	default:
		return fmt.Errorf("auth.mode %q is not one of token, insecure", c.Auth.Mode)
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	s := c.Sessions
	if s.PingInterval >= s.PongTimeout {
		return fmt.Errorf("sessions.ping_interval (%s) must be shorter than sessions.pong_timeout (%s)", s.PingInterval, s.PongTimeout)
	}
	if s.WriteTimeout < 0 || s.RequestTimeout < 0 || s.DedupeTTL < 0 {
		return fmt.Errorf("sessions timeouts must be positive")
	}
	if s.ReadLimit < 0 || s.SendBuffer < 0 || s.DedupeSize < 0 {
		return fmt.Errorf("sessions sizes must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"sessions.write_timeout", cfg.Sessions.WriteTimeoutRaw, &cfg.Sessions.WriteTimeout},
		{"sessions.request_timeout", cfg.Sessions.RequestTimeoutRaw, &cfg.Sessions.RequestTimeout},
		{"sessions.ping_interval", cfg.Sessions.PingIntervalRaw, &cfg.Sessions.PingInterval},
		{"sessions.pong_timeout", cfg.Sessions.PongTimeoutRaw, &cfg.Sessions.PongTimeout},
		{"sessions.dedupe_ttl", cfg.Sessions.DedupeTTLRaw, &cfg.Sessions.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// ExampleYAML is the starter configuration written by "chat-gateway init".
const ExampleYAML = `# chat-gateway configuration

server:
  http_addr: "0.0.0.0:8000"

database:
  driver: "sqlite"          # sqlite or mongo
  path: "chat-gateway.db"
  # uri: "${MONGODB_URI}"
  # name: "chat_application"

auth:
  mode: "token"             # token or insecure
  jwt_secret: "${CHAT_JWT_SECRET}"
  token_ttl: "24h"

sessions:
  write_timeout: "10s"
  request_timeout: "5s"
  ping_interval: "30s"
  pong_timeout: "60s"
  read_limit: 1048576
  send_buffer: 128
  close_superseded: false
  dedupe_ttl: "5m"
  dedupe_size: 10000

tailscale:
  enabled: false
  hostname: "chat-gateway"
  auth_key: "${TS_AUTHKEY}"

logging:
  level: "info"             # debug, info, warn, error
  format: "text"            # text, json
`
