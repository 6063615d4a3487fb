package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newVoicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List available narration voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			voices, err := ctx.apiClient().Voices(cmd.Context())
			if err != nil {
				return err
			}
			if len(voices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No voices available.")
				return nil
			}
			rows := make([][]string, 0, len(voices))
			for _, voice := range voices {
				rows = append(rows, []string{voice.ID, voice.Name, voice.Category})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Category"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := ctx.apiClient().Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %s\n", view.Status)
			fmt.Fprintln(out, renderTable(
				[]string{"Total", "Queued", "Running", "Completed", "Failed"},
				[][]string{{
					strconv.Itoa(view.Jobs.Total),
					strconv.Itoa(view.Jobs.Queued),
					strconv.Itoa(view.Jobs.Running),
					strconv.Itoa(view.Jobs.Completed),
					strconv.Itoa(view.Jobs.Failed),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}
