package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newDraftCommand(ctx *commandContext) *cobra.Command {
	draftCmd := &cobra.Command{
		Use:   "draft",
		Short: "Manage upload drafts",
	}

	draftCmd.AddCommand(newDraftCreateCommand(ctx))
	draftCmd.AddCommand(newDraftTouchCommand(ctx))
	draftCmd.AddCommand(newDraftUploadCommand(ctx))
	draftCmd.AddCommand(newDraftDeletePageCommand(ctx))

	return draftCmd
}

func newDraftCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <manga-id>",
		Short: "Open a new upload draft for a manga",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mangaID, err := parseID("manga", args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			draft, err := client.CreateDraft(cmd.Context(), mangaID)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, draft)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Token", "Manga", "Prefix", "Expires"},
				[][]string{{draft.Token, fmt.Sprint(draft.MangaID), draft.PagesPrefix, draft.ExpiresAt.Local().Format(time.RFC3339)}},
				nil,
			))
			return nil
		},
	}
}

func newDraftTouchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <token>",
		Short: "Extend the lifetime of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			alive, err := client.TouchDraft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !alive {
				return fmt.Errorf("draft is unknown or expired")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Draft extended")
			return nil
		},
	}
}

func newDraftUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <token> <page-id> <file>",
		Short: "Upload one page image into a draft",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[2])
			if err != nil {
				return fmt.Errorf("read page file: %w", err)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			page, err := client.UploadPage(cmd.Context(), args[0], args[1], data, "")
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, page)
			}
			fmt.Fprintln(cmd.OutOrStdout(), page.URL)
			return nil
		},
	}
}

func newDraftDeletePageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-page <token> <page-id>",
		Short: "Delete every stored version of a draft page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			deleted, err := client.DeletePage(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d object versions\n", deleted)
			return nil
		},
	}
}
