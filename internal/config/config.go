// Package config loads storedash settings from defaults, a YAML file,
// STOREDASH_ environment variables and command-line flags, in that order of
// precedence.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/gateway"
	"github.com/user/storedash/internal/types"
)

const EnvPrefix = "STOREDASH_"

const (
	DefaultLogLevel              = "info"
	DefaultHTTPTimeout           = "30s"
	DefaultHealthInterval        = "30s"
	DefaultServerListen          = "127.0.0.1:8400"
	DefaultServerShutdownTimeout = "10s"
	DefaultCoordinatorAPIKey     = "demo-key"
	DefaultCoordinatorMaxBatch   = 20
	DefaultAnalyzerMaxBatch      = 10
	DefaultFallbackEventCount    = 100
	DefaultFallbackDays          = 100
	DefaultChatHistoryLimit      = 20
	DefaultHealthMaxConcurrent   = 5
	DefaultHTTPRateBurst         = 5
	sessionFileName              = "session.json"
	configDirName                = ".storedash"
)

type Config struct {
	DataDir     string                 `koanf:"data_dir" yaml:"data_dir"`
	LogLevel    string                 `koanf:"log_level" yaml:"log_level"`
	Agents      map[string]AgentConfig `koanf:"agents" yaml:"agents"`
	HTTP        HTTPConfig             `koanf:"http" yaml:"http"`
	Coordinator CoordinatorConfig      `koanf:"coordinator" yaml:"coordinator"`
	Analyzer    AnalyzerConfig         `koanf:"analyzer" yaml:"analyzer"`
	Fallback    FallbackConfig         `koanf:"fallback" yaml:"fallback"`
	Health      HealthConfig           `koanf:"health" yaml:"health"`
	Chat        ChatConfig             `koanf:"chat" yaml:"chat"`
	Session     SessionConfig          `koanf:"session" yaml:"session"`
	Server      ServerConfig           `koanf:"server" yaml:"server"`
}

type AgentConfig struct {
	BaseURL string `koanf:"base_url" yaml:"base_url"`
}

type HTTPConfig struct {
	Timeout   string  `koanf:"timeout" yaml:"timeout"`
	RateLimit float64 `koanf:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `koanf:"rate_burst" yaml:"rate_burst"`
}

type CoordinatorConfig struct {
	APIKey   string `koanf:"api_key" yaml:"api_key"`
	MaxBatch int    `koanf:"max_batch" yaml:"max_batch"`
}

type AnalyzerConfig struct {
	MaxBatch int `koanf:"max_batch" yaml:"max_batch"`
}

type FallbackConfig struct {
	EventCount int `koanf:"event_count" yaml:"event_count"`
	Days       int `koanf:"days" yaml:"days"`
}

type HealthConfig struct {
	Interval      string `koanf:"interval" yaml:"interval"`
	MaxConcurrent int    `koanf:"max_concurrent" yaml:"max_concurrent"`
}

type ChatConfig struct {
	HistoryLimit int `koanf:"history_limit" yaml:"history_limit"`
}

type SessionConfig struct {
	// Ephemeral keeps the session in memory only.
	Ephemeral bool `koanf:"ephemeral" yaml:"ephemeral"`
}

type ServerConfig struct {
	Listen          string `koanf:"listen" yaml:"listen"`
	ShutdownTimeout string `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// flagKeys binds command-line flags to config keys. Flags not listed here
// are command options, not settings.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"data-dir":  "data_dir",
	"timeout":   "http.timeout",
	"listen":    "server.listen",
	"ephemeral": "session.ephemeral",
}

// DefaultPath returns ~/.storedash/config.yaml.
func DefaultPath() string {
	return filepath.Join(homeDir(), configDirName, "config.yaml")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// defaults returns every known key with its default value. The set of keys
// is also the set SetValue accepts.
func defaults() map[string]any {
	d := map[string]any{
		"data_dir":                filepath.Join(homeDir(), configDirName),
		"log_level":               DefaultLogLevel,
		"http.timeout":            DefaultHTTPTimeout,
		"http.rate_limit":         0.0,
		"http.rate_burst":         DefaultHTTPRateBurst,
		"coordinator.api_key":     DefaultCoordinatorAPIKey,
		"coordinator.max_batch":   DefaultCoordinatorMaxBatch,
		"analyzer.max_batch":      DefaultAnalyzerMaxBatch,
		"fallback.event_count":    DefaultFallbackEventCount,
		"fallback.days":           DefaultFallbackDays,
		"health.interval":         DefaultHealthInterval,
		"health.max_concurrent":   DefaultHealthMaxConcurrent,
		"chat.history_limit":      DefaultChatHistoryLimit,
		"session.ephemeral":       false,
		"server.listen":           DefaultServerListen,
		"server.shutdown_timeout": DefaultServerShutdownTimeout,
	}
	for name, u := range agent.DefaultBaseURLs {
		d["agents."+string(name)+".base_url"] = u
	}
	return d
}

// Load builds the effective configuration. The file named by the --config
// flag must exist when given; the default file is optional.
func Load(cmd *cobra.Command) (*Config, error) {
	configPath := ""
	var flags *pflag.FlagSet
	if cmd != nil {
		flags = cmd.Flags()
		if f := flags.Lookup("config"); f != nil {
			configPath = strings.TrimSpace(f.Value.String())
		}
	}
	return load(configPath, flags, true)
}

// LoadFile builds the configuration from defaults and the file at path only.
// A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return load("", nil, false)
	}
	return load(path, nil, false)
}

func load(configPath string, flags *pflag.FlagSet, withEnv bool) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	} else if withEnv {
		globalPath := DefaultPath()
		if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
			slog.Debug("global config not found or invalid", "path", globalPath, "error", err)
		}
	}

	if withEnv {
		k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	}

	if flags != nil {
		k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, f.Value.String()
		}), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	return &cfg, nil
}

// envKey maps STOREDASH_HTTP__RATE_LIMIT to http.rate_limit: a double
// underscore separates sections, a single one stays part of the key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

// Validate checks the values that would otherwise fail later at use.
func (c *Config) Validate() error {
	if _, err := c.Registry(); err != nil {
		return err
	}
	if _, err := DurationOrDefault(c.HTTP.Timeout, DefaultHTTPTimeout); err != nil {
		return fmt.Errorf("http.timeout: %w", err)
	}
	if _, err := DurationOrDefault(c.Health.Interval, DefaultHealthInterval); err != nil {
		return fmt.Errorf("health.interval: %w", err)
	}
	if _, err := DurationOrDefault(c.Server.ShutdownTimeout, DefaultServerShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}
	if c.Fallback.EventCount < 0 {
		return fmt.Errorf("fallback.event_count must not be negative")
	}
	return nil
}

// Registry builds the agent registry from agents.<name>.base_url.
func (c *Config) Registry() (*agent.Registry, error) {
	urls := make(map[types.AgentName]string, len(c.Agents))
	for name, a := range c.Agents {
		urls[types.AgentName(name)] = a.BaseURL
	}
	return agent.NewRegistry(urls)
}

func (c *Config) HTTPTimeout() time.Duration {
	d, err := DurationOrDefault(c.HTTP.Timeout, DefaultHTTPTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (c *Config) HealthInterval() time.Duration {
	d, err := DurationOrDefault(c.Health.Interval, DefaultHealthInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (c *Config) ShutdownTimeout() time.Duration {
	d, err := DurationOrDefault(c.Server.ShutdownTimeout, DefaultServerShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// SessionPath is where the durable session lives.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, sessionFileName)
}

// GatewayOptions maps the gateway settings.
func (c *Config) GatewayOptions() gateway.Options {
	return gateway.Options{
		CoordinatorAPIKey: c.Coordinator.APIKey,
		OrchestrateCap:    c.Coordinator.MaxBatch,
		AnalyzeCap:        c.Analyzer.MaxBatch,
		FallbackCount:     c.Fallback.EventCount,
		FallbackDays:      c.Fallback.Days,
		ChatHistoryLimit:  c.Chat.HistoryLimit,
	}
}

// Save writes cfg as YAML to path atomically.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
