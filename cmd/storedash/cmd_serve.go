package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/storedash/internal/dashboard"
	"github.com/user/storedash/internal/health"
	"github.com/user/storedash/internal/scheduler"
)

const pidFileName = "storedash.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "address the dashboard API listens on")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg := a.cfg

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg := health.NewAggregator(a.client, a.registry, health.WithMaxConcurrent(int64(cfg.Health.MaxConcurrent)))
	hub := dashboard.NewHub()
	var srv *dashboard.Server
	poller := health.NewPoller(agg, sched,
		health.WithInterval(cfg.HealthInterval()),
		health.OnSnapshot(hub.Publish),
		health.OnAuthLost(func() { srv.SessionLost() }),
		health.WhileAuthenticated(a.sessions.IsAuthenticated),
	)
	srv = dashboard.New(dashboard.Deps{
		Gateway:  a.gateway,
		Sessions: a.sessions,
		Poller:   poller,
		Hub:      hub,
	})
	srv.Start(ctx)
	defer srv.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("storedash started",
		"listen", cfg.Server.Listen,
		"data_dir", cfg.DataDir,
		"ephemeral_session", cfg.Session.Ephemeral,
		"health_interval", cfg.HealthInterval(),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err, ok := <-serveErr:
			if ok && err != nil {
				return fmt.Errorf("dashboard server: %w", err)
			}
			return nil
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				shutdown(httpServer, cfg.ShutdownTimeout())
				srv.Stop()
				execPath, err := os.Executable()
				if err != nil {
					return fmt.Errorf("get executable path: %w", err)
				}
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			slog.Info("shutting down", "signal", sig)
			shutdown(httpServer, cfg.ShutdownTimeout())
			return nil
		}
	}
}

func shutdown(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("dashboard server shutdown incomplete", "error", err)
	}
}
