package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/storedash/internal/dashboard"
	"github.com/user/storedash/internal/health"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/scheduler"
	"github.com/user/storedash/internal/types"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("watch", false, "keep polling and print every snapshot")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of every agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		agg := health.NewAggregator(a.client, a.registry, health.WithMaxConcurrent(int64(a.cfg.Health.MaxConcurrent)))

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return watchStatus(a, agg)
		}

		snap, err := agg.CheckAll(context.Background())
		if errors.Is(err, httpclient.ErrAuthRequired) {
			return errLogin
		}
		return printSnapshot(snap)
	},
}

func watchStatus(a *app, agg *health.Aggregator) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	authLost := make(chan struct{})
	poller := health.NewPoller(agg, sched,
		health.WithInterval(a.cfg.HealthInterval()),
		health.OnSnapshot(func(snap types.Snapshot) {
			if err := printSnapshot(snap); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}),
		health.OnAuthLost(func() { close(authLost) }),
		health.WhileAuthenticated(a.sessions.IsAuthenticated),
	)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-authLost:
		return errLogin
	}
}

func printSnapshot(snap types.Snapshot) error {
	view := dashboard.NewStatusView(snap)
	if jsonOut {
		return printJSON(view)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tLAST CHECKED")
	for _, h := range view.Agents {
		fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name, h.Status, h.LastChecked.Format("15:04:05"))
	}
	fmt.Fprintf(w, "\n%d/%d agents online\n", view.Online, view.Total)
	return w.Flush()
}
