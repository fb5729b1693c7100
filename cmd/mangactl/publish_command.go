package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"manga-server/internal/models"
)

var pageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".gif": {},
}

type pageFile struct {
	ID   string
	Path string
}

func newChapterPublishCommand(ctx *commandContext) *cobra.Command {
	var (
		mangaID     int64
		concurrency int
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "publish <chapter-id> <dir>",
		Short: "Upload every image in a directory and commit them as the chapter pages",
		Long: "Creates a draft, uploads the images of <dir> in file name order " +
			"(the file name without extension becomes the page id) and commits them.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1, got %d", concurrency)
			}
			chapterID, err := parseID("chapter", args[0])
			if err != nil {
				return err
			}
			pages, err := collectPages(args[1])
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
			out := cmd.ErrOrStderr()
			fmt.Fprintf(out, "Draft %s opened, uploading %d pages\n", draft.Token, len(pages))

			var uploaded atomic.Int32
			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			for _, page := range pages {
				g.Go(func() error {
					data, err := os.ReadFile(page.Path)
					if err != nil {
						return fmt.Errorf("read %s: %w", page.Path, err)
					}
					if _, err := client.UploadPage(gctx, draft.Token, page.ID, data, ""); err != nil {
						return fmt.Errorf("upload %s: %w", page.ID, err)
					}
					fmt.Fprintf(out, "[%d/%d] %s\n", uploaded.Add(1), len(pages), page.ID)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			ids := make([]string, len(pages))
			for i, page := range pages {
				ids[i] = page.ID
			}
			ticket, err := client.CommitPages(cmd.Context(), chapterID, draft.Token, ids)
			if err != nil {
				return err
			}
			if !wait {
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

	cmd.Flags().Int64Var(&mangaID, "manga", 0, "Manga id the chapter belongs to")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel uploads")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait until processing finishes")
	_ = cmd.MarkFlagRequired("manga")
	return cmd
}

// collectPages возвращает изображения каталога в порядке имен файлов.
func collectPages(dir string) ([]pageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read page directory: %w", err)
	}

	var pages []pageFile
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := pageExtensions[ext]; !ok {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if !models.ValidPageID(id) {
			return nil, fmt.Errorf("file %q: %q is not a valid page id", entry.Name(), id)
		}
		if other, dup := seen[id]; dup {
			return nil, fmt.Errorf("files %q and %q map to the same page id %q", other, entry.Name(), id)
		}
		seen[id] = entry.Name()
		pages = append(pages, pageFile{ID: id, Path: filepath.Join(dir, entry.Name())})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images found in %s", dir)
	}
	if len(pages) > models.MaxPagesPerChapter {
		return nil, fmt.Errorf("%d pages found, at most %d are allowed", len(pages), models.MaxPagesPerChapter)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	return pages, nil
}
