package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/teranos/mise/am"
	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse"
)

// PulseCmd represents the pulse command
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Manage the Pulse scheduler daemon",
	Long: `Pulse daemon - durable job scheduling.

The daemon delivers due wake-ups to job actors, which invoke their targets,
record executions and reschedule themselves. Wake-ups are stored in the
database, so jobs that came due while the daemon was down fire on startup.

Example:
  mise pulse start
  mise pulse start --poll-interval 250ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

The daemon will:
- Deliver due wake-ups to job actors
- Serve Prometheus metrics when metrics.enabled is set
- Reload the poll interval when the config file changes
- Run until interrupted (Ctrl+C) with GRACE shutdown`,
	RunE: runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Duration("poll-interval", 0, "Override pulse.poll_interval_ms")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if interval, _ := cmd.Flags().GetDuration("poll-interval"); interval > 0 {
		cfg.Pulse.PollIntervalMS = int(interval / time.Millisecond)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := pulse.NewHost(ctx, database, cfg, pulse.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	host.Start()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("Metrics server failed", logger.FieldError, err)
			}
		}()
	}

	if path := am.ActiveConfigPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config watcher disabled", "path", path, logger.FieldError, err)
		} else {
			watcher.OnReload(host.ApplyConfig)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pulse daemon started\n")
	fmt.Fprintf(out, "  Database: %s\n", cfg.GetDatabasePath())
	fmt.Fprintf(out, "  Poll interval: %v\n", host.Ticker.Interval())
	fmt.Fprintf(out, "  Events: %s\n", cfg.Events.Transport)
	if metricsServer != nil {
		fmt.Fprintf(out, "  Metrics: http://%s/metrics\n", cfg.Metrics.Addr)
	}
	fmt.Fprintf(out, "\nPress Ctrl+C for graceful shutdown\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintf(out, "\nInitiating GRACE shutdown...\n")

	// Stop in reverse order of startup
	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancelShutdown()
	}
	host.Stop()
	cancel()

	fmt.Fprintf(out, "Pulse daemon stopped\n")
	return nil
}
