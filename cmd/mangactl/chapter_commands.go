package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"manga-server/internal/models"
)

const defaultPollInterval = 2 * time.Second

func newChapterCommand(ctx *commandContext) *cobra.Command {
	chapterCmd := &cobra.Command{
		Use:   "chapter",
		Short: "Publish and inspect chapter pages",
	}

	chapterCmd.AddCommand(newChapterPublishCommand(ctx))
	chapterCmd.AddCommand(newChapterCommitCommand(ctx))
	chapterCmd.AddCommand(newChapterStatusCommand(ctx))
	chapterCmd.AddCommand(newChapterRetryCommand(ctx))
	chapterCmd.AddCommand(newChapterDeleteCommand(ctx))

	return chapterCmd
}

func newChapterCommitCommand(ctx *commandContext) *cobra.Command {
	var (
		token string
		pages []string
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "commit <chapter-id>",
		Short: "Commit uploaded draft pages as the chapter page list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chapterID, err := parseID("chapter", args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			ticket, err := client.CommitPages(cmd.Context(), chapterID, token, pages)
			if err != nil {
				return err
			}
			if !wait {
				if ctx.jsonOutput {
					return writeJSON(cmd, ticket)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processing started (job %s)\n", ticket.JobID)
				return nil
			}
			status, err := client.WaitProcessing(cmd.Context(), chapterID, defaultPollInterval)
			if err != nil {
				return err
			}
			return printStatus(cmd, ctx, status)
		},
	}

	cmd.Flags().StringVar(&token, "draft", "", "Draft token")
	cmd.Flags().StringSliceVar(&pages, "pages", nil, "Ordered page ids, comma separated")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until processing finishes")
	_ = cmd.MarkFlagRequired("draft")
	_ = cmd.MarkFlagRequired("pages")
	return cmd
}

func newChapterStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <chapter-id>",
		Short: "Show chapter processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chapterID, err := parseID("chapter", args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.ProcessingStatus(cmd.Context(), chapterID)
			if err != nil {
				return err
			}
			return printStatus(cmd, ctx, status)
		},
	}
}

func newChapterRetryCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "retry <chapter-id>",
		Short: "Re-run failed processing with the last committed pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chapterID, err := parseID("chapter", args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			ticket, err := client.RetryProcessing(cmd.Context(), chapterID)
			if err != nil {
				return err
			}
			if !wait {
				fmt.Fprintf(cmd.OutOrStdout(), "Retry started (job %s)\n", ticket.JobID)
				return nil
			}
			status, err := client.WaitProcessing(cmd.Context(), chapterID, defaultPollInterval)
			if err != nil {
				return err
			}
			return printStatus(cmd, ctx, status)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until processing finishes")
	return cmd
}

func newChapterDeleteCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "delete <chapter-id>",
		Short: "Delete a chapter and its stored pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chapterID, err := parseID("chapter", args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			handle, err := client.DeleteChapter(cmd.Context(), chapterID)
			if err != nil {
				return err
			}
			return reportJob(cmd, ctx, client, handle.JobID, wait)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the job finishes")
	return cmd
}

// printStatus печатает статус; состояние failed возвращается как ошибка,
// чтобы код выхода был ненулевым.
func printStatus(cmd *cobra.Command, ctx *commandContext, status *models.ProcessingStatus) error {
	if ctx.jsonOutput {
		if err := writeJSON(cmd, status); err != nil {
			return err
		}
	} else {
		updated := ""
		if status.UpdatedAt != nil {
			updated = status.UpdatedAt.Local().Format(time.RFC3339)
		}
		fmt.Fprint(cmd.OutOrStdout(), renderTable(
			[]string{"Chapter", "State", "Pages", "Updated", "Error"},
			[][]string{{fmt.Sprint(status.ChapterID), strings.ToUpper(status.State), fmt.Sprint(status.Pages), updated, status.Error}},
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}
	if status.State == models.ChapterStatusFailed {
		return fmt.Errorf("chapter %d processing failed: %s", status.ChapterID, status.Error)
	}
	return nil
}
