package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"discflow/internal/config"
	"discflow/internal/dispatch"
	"discflow/internal/history"
	"discflow/internal/logging"
	"discflow/internal/metrics"
	"discflow/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var metricsBind string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "run <stage>",
		Short: "Run one configured stage to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(metricsBind) != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Bind = strings.TrimSpace(metricsBind)
			}
			if noHistory {
				cfg.History.Enabled = false
			}
			return runStage(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
		},
	}

	cmd.Flags().StringVar(&metricsBind, "metrics-bind", "", "Serve Prometheus metrics on this address while the stage runs")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this run in the history database")
	return cmd
}

func runStage(parent context.Context, out io.Writer, cfg *config.Config, stage string) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := checkStateDir(cfg.Paths.StateDir); err != nil {
		return err
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another discflow run holds %s", cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	runCtx, stop := signal.NotifyContext(parent, unix.SIGINT, unix.SIGTERM)
	defer stop()

	opts := []workflow.Option{workflow.WithLogger(logger)}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		opts = append(opts, workflow.WithHistory(store))
	}

	if cfg.Metrics.Enabled {
		sink, err := startMetrics(runCtx, cfg.Metrics.Bind, logger)
		if err != nil {
			return err
		}
		opts = append(opts, workflow.WithMetrics(sink))
	}

	loop := dispatch.NewLoop(dispatch.WithLoopName("main"), dispatch.WithLoopLogger(logger))
	runner, err := workflow.NewRunner(cfg, loop, opts...)
	if err != nil {
		return err
	}
	defer runner.Close()

	var (
		summary workflow.Summary
		runErr  error
	)
	go func() {
		defer loop.Close()
		summary, runErr = runner.Run(runCtx, stage)
	}()
	// Stage callbacks and sinks execute here until the run finishes.
	if err := loop.Run(context.Background()); err != nil && !errors.Is(err, dispatch.ErrLoopClosed) {
		return err
	}

	printSummary(out, summary)
	return runErr
}

func startMetrics(ctx context.Context, bind string, logger *slog.Logger) (*metrics.Sink, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink, err := metrics.NewSink(reg)
	if err != nil {
		return nil, err
	}
	if err := metrics.NewServer(bind, reg, logger).Start(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func checkStateDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("paths.state_dir is not configured")
	}
	if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("state directory %s is not accessible: %w", dir, err)
	}
	return nil
}

func printSummary(out io.Writer, summary workflow.Summary) {
	if summary.Stage == "" {
		return
	}
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "%s: %s in %s\n", summary.Label, colorOutcome(summary.Outcome, colorize), summary.Duration.Round(time.Millisecond))
	if len(summary.Plugins) == 0 {
		return
	}
	rows := make([][]string, 0, len(summary.Plugins))
	for _, snap := range summary.Plugins {
		errText := ""
		if snap.Err != nil {
			errText = snap.Err.Error()
		}
		rows = append(rows, []string{
			snap.PluginID,
			colorOutcome(string(snap.State), colorize),
			fmt.Sprintf("%.0f%%", snap.Percent),
			snap.Elapsed.Round(time.Millisecond).String(),
			errText,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Plugin", "State", "Progress", "Elapsed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
}
