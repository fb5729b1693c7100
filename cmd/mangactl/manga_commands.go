package main

import (
	"github.com/spf13/cobra"
)

func newMangaCommand(ctx *commandContext) *cobra.Command {
	mangaCmd := &cobra.Command{
		Use:   "manga",
		Short: "Manage catalog entries",
	}
	mangaCmd.AddCommand(newMangaDeleteCommand(ctx))
	return mangaCmd
}

func newMangaDeleteCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "delete <manga-id>",
		Short: "Delete a manga with all chapters and stored pages",
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
			handle, err := client.DeleteManga(cmd.Context(), mangaID)
			if err != nil {
				return err
			}
			return reportJob(cmd, ctx, client, handle.JobID, wait)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the job finishes")
	return cmd
}
