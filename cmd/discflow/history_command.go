package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"discflow/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent stage runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			path := cfg.HistoryPath()
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "No runs recorded yet")
				return nil
			}
			store, err := history.Open(path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			colorize := shouldColorize(out)
			if id := strings.TrimSpace(runID); id != "" {
				plugins, err := store.PluginsForRun(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(plugins) == 0 {
					fmt.Fprintf(out, "No plugin records for run %s\n", id)
					return nil
				}
				rows := make([][]string, 0, len(plugins))
				for _, rec := range plugins {
					rows = append(rows, []string{
						rec.PluginID,
						colorOutcome(string(rec.State), colorize),
						fmt.Sprintf("%.0f%%", rec.Percent),
						rec.Elapsed.Round(time.Millisecond).String(),
						rec.Error,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Plugin", "State", "Progress", "Elapsed", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			}

			records, err := store.ListStages(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No runs recorded yet")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					rec.RunID,
					rec.Stage,
					colorOutcome(rec.Outcome, colorize),
					rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
					rec.Duration.Round(time.Millisecond).String(),
					truncate(rec.Error, 60),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Stage", "Outcome", "Started", "Duration", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 shows all)")
	cmd.Flags().StringVar(&runID, "run", "", "Show the plugin results of one run")
	return cmd
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
