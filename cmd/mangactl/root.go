package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultServer  = "http://localhost:8084"
	defaultTimeout = 2 * time.Minute
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "mangactl",
		Short:         "Admin CLI for the manga chapter upload pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.server, "server", envOr("MANGACTL_SERVER", defaultServer), "Admin API base URL")
	flags.StringVar(&ctx.accessToken, "token", os.Getenv("MANGACTL_TOKEN"), "Admin bearer token")
	flags.DurationVar(&ctx.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flags.BoolVar(&ctx.jsonOutput, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newDraftCommand(ctx))
	rootCmd.AddCommand(newChapterCommand(ctx))
	rootCmd.AddCommand(newMangaCommand(ctx))
	rootCmd.AddCommand(newJobCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
