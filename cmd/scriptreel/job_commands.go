package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scriptreel/internal/daemon"
	"scriptreel/internal/queue"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var scriptFile string
	var aspectRatio string
	var voiceID string
	var watch bool

	cmd := &cobra.Command{
		Use:   "submit [script text]",
		Short: "Submit a script for video generation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := resolveScript(args, scriptFile)
			if err != nil {
				return err
			}
			view, err := ctx.apiClient().Submit(cmd.Context(), script, aspectRatio, voiceID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", view.ID)
			if !watch {
				return nil
			}
			return watchJob(cmd, ctx, view.ID)
		},
	}
	cmd.Flags().StringVarP(&scriptFile, "file", "f", "", "Read the script from a file instead of the argument")
	cmd.Flags().StringVar(&aspectRatio, "aspect", "", "Aspect ratio for rendered scenes (default 16:9)")
	cmd.Flags().StringVar(&voiceID, "voice", "", "Narration voice ID")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job finishes")
	return cmd
}

func resolveScript(args []string, scriptFile string) (string, error) {
	if scriptFile != "" {
		data, err := os.ReadFile(scriptFile)
		if err != nil {
			return "", fmt.Errorf("read script file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	return "", fmt.Errorf("provide a script argument or --file")
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job's detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := ctx.apiClient().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJobDetail(cmd, view)
			return nil
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var stageFilter string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stages []queue.Stage
			if stageFilter != "" {
				for _, raw := range strings.Split(stageFilter, ",") {
					stage, ok := queue.ParseStage(strings.TrimSpace(raw))
					if !ok {
						return fmt.Errorf("unknown stage %q", raw)
					}
					stages = append(stages, stage)
				}
			}
			views, err := ctx.apiClient().Jobs(cmd.Context(), stages...)
			if err != nil {
				return err
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, view := range views {
				rows = append(rows, []string{
					view.ID,
					stageLabel(view.Stage),
					strconv.Itoa(int(view.Progress)) + "%",
					view.Message,
					view.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Stage", "Progress", "Message", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&stageFilter, "stage", "", "Filter by stage (comma separated)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := ctx.apiClient().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", view.ID)
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed or completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := ctx.apiClient().Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued job %s\n", view.ID)
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a finished job's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.apiClient().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
			return nil
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var includeFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete completed job records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cleared, err := ctx.apiClient().ClearFinished(cmd.Context(), includeFailed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d job(s)\n", cleared)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeFailed, "failed", false, "Also delete failed job records")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJob(cmd, ctx, args[0])
		},
	}
}

func watchJob(cmd *cobra.Command, ctx *commandContext, jobID string) error {
	out := cmd.OutOrStdout()
	var last daemon.JobView
	err := ctx.apiClient().Watch(cmd.Context(), jobID, func(view daemon.JobView) bool {
		fmt.Fprintf(out, "%3.0f%%  %-18s %s\n", view.Progress, stageLabel(view.Stage), view.Message)
		last = view
		return true
	})
	if err != nil {
		return err
	}
	switch last.Stage {
	case string(queue.StageCompleted):
		if last.Artifacts != nil && last.Artifacts.VideoURL != "" {
			fmt.Fprintf(out, "Video: %s\n", last.Artifacts.VideoURL)
		}
	case string(queue.StageFailed):
		return fmt.Errorf("job failed: %s", last.ErrorMessage)
	}
	return nil
}

func printJobDetail(cmd *cobra.Command, view daemon.JobView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:      %s\n", view.ID)
	fmt.Fprintf(out, "Stage:    %s (%.0f%%)\n", stageLabel(view.Stage), view.Progress)
	fmt.Fprintf(out, "Message:  %s\n", view.Message)
	if view.AspectRatio != "" {
		fmt.Fprintf(out, "Aspect:   %s\n", view.AspectRatio)
	}
	if view.VoiceID != "" {
		fmt.Fprintf(out, "Voice:    %s\n", view.VoiceID)
	}
	if view.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s (%s)\n", view.ErrorMessage, view.ErrorCode)
	}
	if view.Artifacts != nil {
		if view.Artifacts.VideoURL != "" {
			fmt.Fprintf(out, "Video:    %s\n", view.Artifacts.VideoURL)
		}
		if len(view.Artifacts.SceneClips) > 0 {
			fmt.Fprintf(out, "Clips:    %d rendered\n", len(view.Artifacts.SceneClips))
		}
	}
	fmt.Fprintf(out, "Created:  %s\n", view.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Updated:  %s\n", view.UpdatedAt.Local().Format(time.DateTime))
}
