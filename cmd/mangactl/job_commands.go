package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"manga-server/internal/adminclient"
	"manga-server/pkg/taskmanager"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect background jobs",
	}

	jobCmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a background job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return reportJob(cmd, ctx, client, jobID, false)
		},
	})

	var wait bool
	reapCmd := &cobra.Command{
		Use:   "reap-drafts",
		Short: "Run one draft cleanup pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			handle, err := client.ScheduleDraftReap(cmd.Context())
			if err != nil {
				return err
			}
			return reportJob(cmd, ctx, client, handle.JobID, wait)
		},
	}
	reapCmd.Flags().BoolVar(&wait, "wait", false, "Wait until the job finishes")
	jobCmd.AddCommand(reapCmd)

	return jobCmd
}

// reportJob печатает задачу; при wait сначала дожидается ее завершения.
func reportJob(cmd *cobra.Command, ctx *commandContext, client *adminclient.Client, jobID uuid.UUID, wait bool) error {
	var (
		task *taskmanager.Task
		err  error
	)
	if wait {
		task, err = client.WaitJob(cmd.Context(), jobID, defaultPollInterval)
	} else {
		task, err = client.GetJob(cmd.Context(), jobID)
	}
	if err != nil {
		return err
	}

	if ctx.jsonOutput {
		if err := writeJSON(cmd, task); err != nil {
			return err
		}
	} else {
		finished := ""
		if task.FinishedAt != nil {
			finished = task.FinishedAt.Local().Format(time.RFC3339)
		}
		fmt.Fprint(cmd.OutOrStdout(), renderTable(
			[]string{"Job", "Type", "Status", "Finished", "Error"},
			[][]string{{task.ID.String(), task.Type, strings.ToUpper(string(task.Status)), finished, task.Error}},
			nil,
		))
	}
	if task.Status == taskmanager.TaskStatusFailed {
		return fmt.Errorf("job %s failed: %s", task.ID, task.Error)
	}
	return nil
}
