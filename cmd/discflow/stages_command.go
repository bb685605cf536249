package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"discflow/internal/workflow"
)

func newStagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List configured stages and their plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.Stages) == 0 {
				fmt.Fprintln(out, "No stages configured")
				return nil
			}
			rows := make([][]string, 0, len(cfg.Stages))
			for _, stage := range cfg.Stages {
				optional := strings.Join(stage.Optional, ", ")
				if optional == "" {
					optional = "-"
				}
				rows = append(rows, []string{
					stage.Name,
					workflow.StageLabel(stage.Name),
					strings.Join(stage.Critical, ", "),
					optional,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Label", "Critical", "Optional"},
				rows,
				nil,
			))
			return nil
		},
	}
}
