package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/config"
	"github.com/user/storedash/internal/gateway"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/logger"
	"github.com/user/storedash/internal/session"
)

var (
	cfgPath  string
	jsonOut  bool
	errLogin = errors.New("not logged in or session expired; run 'storedash login'")
)

var rootCmd = &cobra.Command{
	Use:           "storedash",
	Short:         "Store performance dashboard client for the agent backends",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "config file path (default ~/.storedash/config.yaml)")
	pf.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	pf.String("data-dir", "", "directory holding the session file")
	pf.String("timeout", config.DefaultHTTPTimeout, "timeout for each agent call")
	pf.Bool("ephemeral", false, "keep the session in memory only")
	pf.BoolVar(&jsonOut, "json", false, "print results as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for cmd, exiting on
// failure.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	logger.Setup(cfg.LogLevel)
}

// configFile is the file config get/set operate on.
func configFile() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

// app is the wired client stack shared by every command.
type app struct {
	cfg      *config.Config
	registry *agent.Registry
	sessions *session.Store
	client   *httpclient.Client
	gateway  *gateway.Gateway
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg := loadConfig(cmd)
	setupLogging(cfg)

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	var kv session.KV
	if cfg.Session.Ephemeral {
		kv = session.NewMemoryKV()
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		kv = session.NewFileKV(cfg.SessionPath())
	}
	base := httpclient.New(registry, nil,
		httpclient.WithTimeout(cfg.HTTPTimeout()),
		httpclient.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
	)
	sessions := session.New(kv, base)
	client := base.WithTokens(sessions)

	return &app{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		client:   client,
		gateway:  gateway.New(client, cfg.GatewayOptions()),
	}, nil
}

// requireSession fails fast when no token is held.
func (a *app) requireSession() error {
	if !a.sessions.IsAuthenticated() {
		return errLogin
	}
	return nil
}

// unwrap turns a failed result into an error.
func unwrap[T any](res gateway.Result[T]) (T, error) {
	if res.Success {
		return res.Data, nil
	}
	if res.AuthRequired() {
		return res.Data, errLogin
	}
	return res.Data, errors.New(res.Error)
}
