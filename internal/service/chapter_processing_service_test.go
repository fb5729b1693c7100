package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manga-server/internal/models"
	"manga-server/internal/service"
	"manga-server/pkg/taskmanager"
)

const (
	testMangaID   = int64(42)
	testChapterID = int64(7)
)

func pageIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i+1)
	}
	return ids
}

func TestChapterProcessing_ScenarioA(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.chapters.addChapter(testChapterID, testMangaID)

	draft, err := p.drafts.CreateDraft(ctx, testMangaID)
	require.NoError(t, err)
	p.upload(t, draft.Token, "p1", "p2", "p3")

	ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Equal(t, models.ChapterStatusProcessing, ticket.State)

	task := p.waitTask(t, ticket.JobID)
	assert.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)
	assert.Equal(t, service.TaskTypeChapterFinalize, task.Type)

	status, err := p.processing.GetProcessingStatus(ctx, testChapterID)
	require.NoError(t, err)
	assert.Equal(t, models.ChapterStatusDone, status.State)
	assert.Equal(t, 3, status.Pages)
	assert.Equal(t, draft.PagesPrefix, status.PagesPrefix)

	chapter := p.chapters.snapshot(testChapterID)
	assert.Equal(t, []string{"p1", "p2", "p3"}, chapter.PageIDs)
	assert.Empty(t, chapter.ProcessingDraftToken)
	assert.Empty(t, chapter.ProcessingPages)
	assert.NotNil(t, chapter.PagesUpdatedAt)

	_, err = p.drafts.GetDraft(ctx, draft.Token)
	assert.ErrorIs(t, err, models.ErrDraftNotFound, "draft must be consumed")

	assert.Equal(t, []string{models.ChapterStatusProcessing, models.ChapterStatusDone}, p.events.States(testChapterID))
}

func TestChapterProcessing_ScenarioB_InvalidPageRejectedSynchronously(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.chapters.addChapter(testChapterID, testMangaID)

	draft, err := p.drafts.CreateDraft(ctx, testMangaID)
	require.NoError(t, err)

	_, err = p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1", "../etc"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	assert.Empty(t, p.tasks.ListTasks())
	assert.Empty(t, p.store.Keys())
	assert.Equal(t, models.ProcessingNone, p.chapters.snapshot(testChapterID).ProcessingState)
}

func TestChapterProcessing_ScenarioC_MissingPageThenRetry(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.chapters.addChapter(testChapterID, testMangaID)

	draft, err := p.drafts.CreateDraft(ctx, testMangaID)
	require.NoError(t, err)
	p.upload(t, draft.Token, "p1", "p3")

	ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	task := p.waitTask(t, ticket.JobID)
	assert.Equal(t, taskmanager.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "p2")

	status, err := p.processing.GetProcessingStatus(ctx, testChapterID)
	require.NoError(t, err)
	assert.Equal(t, models.ChapterStatusFailed, status.State)
	assert.Contains(t, status.Error, "p2")

	chapter := p.chapters.snapshot(testChapterID)
	assert.Equal(t, draft.Token, chapter.ProcessingDraftToken)
	assert.Equal(t, []string{"p1", "p2", "p3"}, chapter.ProcessingPages)

	p.upload(t, draft.Token, "p2")
	retry, err := p.processing.RetryChapterProcessing(ctx, testChapterID)
	require.NoError(t, err)
	assert.NotEqual(t, ticket.JobID, retry.JobID)

	task = p.waitTask(t, retry.JobID)
	assert.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)

	status, err = p.processing.GetProcessingStatus(ctx, testChapterID)
	require.NoError(t, err)
	assert.Equal(t, models.ChapterStatusDone, status.State)
	assert.Equal(t, 3, status.Pages)
	assert.Empty(t, status.Error)

	assert.Equal(t, []string{
		models.ChapterStatusProcessing,
		models.ChapterStatusFailed,
		models.ChapterStatusProcessing,
		models.ChapterStatusDone,
	}, p.events.States(testChapterID))
}

func TestChapterProcessing_CommitValidation(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*pipeline, *models.DraftSession) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		draft, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		return p, draft
	}

	t.Run("Empty list", func(t *testing.T) {
		p, draft := setup(t)
		_, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, nil)
		assert.ErrorIs(t, err, models.ErrInvalidPageList)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("221 pages rejected, 220 accepted", func(t *testing.T) {
		p, draft := setup(t)
		_, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, pageIDs(221))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.Empty(t, p.tasks.ListTasks())

		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, pageIDs(220))
		require.NoError(t, err)
		p.waitTask(t, ticket.JobID)
	})

	t.Run("Duplicates collapse", func(t *testing.T) {
		p, draft := setup(t)
		p.upload(t, draft.Token, "a", "b")

		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"a", "a", "b"})
		require.NoError(t, err)
		task := p.waitTask(t, ticket.JobID)
		require.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)

		chapter := p.chapters.snapshot(testChapterID)
		assert.Equal(t, 2, chapter.Pages)
		assert.Equal(t, []string{"a", "b"}, chapter.PageIDs)
	})

	t.Run("Malformed, unknown and foreign drafts", func(t *testing.T) {
		p, _ := setup(t)
		foreign, err := p.drafts.CreateDraft(ctx, testMangaID+1)
		require.NoError(t, err)

		for _, token := range []string{"bad", "0000000000000000000000000000000000000000000000000000000000000000", foreign.Token} {
			_, err := p.processing.CommitChapterPages(ctx, testChapterID, token, []string{"p1"})
			assert.ErrorIs(t, err, models.ErrInvalidDraft)
		}
		assert.Empty(t, p.tasks.ListTasks())
	})

	t.Run("Unknown chapter", func(t *testing.T) {
		p, draft := setup(t)
		_, err := p.processing.CommitChapterPages(ctx, 999, draft.Token, []string{"p1"})
		assert.ErrorIs(t, err, models.ErrChapterNotFound)
	})

	t.Run("Commit while processing", func(t *testing.T) {
		p, draft := setup(t)
		p.chapters.update(testChapterID, func(c *models.Chapter) { c.ProcessingState = models.ProcessingInProgress })

		_, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1"})
		assert.ErrorIs(t, err, models.ErrAlreadyProcessing)
		assert.ErrorIs(t, err, models.ErrConflict)
	})
}

func TestChapterProcessing_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.chapters.addChapter(testChapterID, testMangaID)

	draft, err := p.drafts.CreateDraft(ctx, testMangaID)
	require.NoError(t, err)
	p.upload(t, draft.Token, "p1")

	// Задача не завершится, пока все коммиты не получат ответ.
	gate := make(chan struct{})
	p.store.listGate = gate

	const callers = 16
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		accepted []models.ProcessingTicket
		rejected int
		other    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, *ticket)
			case errors.Is(err, models.ErrAlreadyProcessing):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, accepted, 1)
	assert.Equal(t, callers-1, rejected)
	assert.Equal(t, models.ProcessingInProgress, p.chapters.snapshot(testChapterID).ProcessingState)

	close(gate)
	task := p.waitTask(t, accepted[0].JobID)
	assert.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)
	assert.Len(t, p.tasks.ListTasks(), 1)
}

func TestChapterProcessing_FinalizeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Store write error keeps retry data", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		p.chapters.finalizeErr = errors.New("connection reset by peer")

		draft, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		p.upload(t, draft.Token, "p1", "p2")

		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1", "p2"})
		require.NoError(t, err)
		p.waitTask(t, ticket.JobID)

		chapter := p.chapters.snapshot(testChapterID)
		assert.Equal(t, models.ProcessingFailed, chapter.ProcessingState)
		assert.Contains(t, chapter.ProcessingError, "connection reset by peer")
		assert.Equal(t, draft.Token, chapter.ProcessingDraftToken)
		assert.Equal(t, []string{"p1", "p2"}, chapter.ProcessingPages)

		_, err = p.drafts.GetDraft(ctx, draft.Token)
		assert.NoError(t, err, "draft must survive a failed finalize")
	})

	t.Run("Storage listing error", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		draft, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		p.upload(t, draft.Token, "p1")
		p.store.listErr = errStorageDown

		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1"})
		require.NoError(t, err)
		task := p.waitTask(t, ticket.JobID)
		assert.Equal(t, taskmanager.TaskStatusFailed, task.Status)

		status, err := p.processing.GetProcessingStatus(ctx, testChapterID)
		require.NoError(t, err)
		assert.Equal(t, models.ChapterStatusFailed, status.State)
		assert.Contains(t, status.Error, errStorageDown.Error())
	})

	t.Run("Queue full rejects commit without touching retry data", func(t *testing.T) {
		p := newPipelineWith(t, taskmanager.Config{Workers: 1, QueueSize: 1})
		p.chapters.addChapter(testChapterID, testMangaID)

		draftA, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		p.upload(t, draftA.Token, "a1")
		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draftA.Token, []string{"a1", "a2"})
		require.NoError(t, err)
		p.waitTask(t, ticket.JobID)
		before := p.chapters.snapshot(testChapterID)
		require.Equal(t, models.ProcessingFailed, before.ProcessingState)
		eventsBefore := p.events.States(testChapterID)

		block := make(chan struct{})
		running := make(chan struct{})
		_, err = p.tasks.Submit(ctx, "blocker", func(context.Context) error {
			close(running)
			<-block
			return nil
		})
		require.NoError(t, err)
		<-running
		_, err = p.tasks.Submit(ctx, "filler", func(context.Context) error { return nil })
		require.NoError(t, err)

		draftB, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		_, err = p.processing.CommitChapterPages(ctx, testChapterID, draftB.Token, []string{"b1"})
		assert.ErrorIs(t, err, taskmanager.ErrTooManyTasks)

		after := p.chapters.snapshot(testChapterID)
		assert.Equal(t, models.ProcessingFailed, after.ProcessingState)
		assert.Equal(t, draftA.Token, after.ProcessingDraftToken)
		assert.Equal(t, []string{"a1", "a2"}, after.ProcessingPages)
		assert.Equal(t, before.ProcessingError, after.ProcessingError)
		assert.Equal(t, eventsBefore, p.events.States(testChapterID))
		assert.False(t, p.tasks.IsBusy("chapter:7"))

		close(block)
		p.upload(t, draftA.Token, "a2")
		// Очередь освобождается не сразу после снятия блокировки.
		var retry *models.ProcessingTicket
		require.Eventually(t, func() bool {
			retry, err = p.processing.RetryChapterProcessing(ctx, testChapterID)
			return err == nil
		}, 3*time.Second, 10*time.Millisecond)
		task := p.waitTask(t, retry.JobID)
		assert.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)
		assert.Equal(t, []string{"a1", "a2"}, p.chapters.snapshot(testChapterID).PageIDs)
	})
}

func TestChapterProcessing_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("Never processed", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		_, err := p.processing.RetryChapterProcessing(ctx, testChapterID)
		assert.ErrorIs(t, err, models.ErrNotRetryable)
	})

	t.Run("Processing is not retryable", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		p.chapters.update(testChapterID, func(c *models.Chapter) { c.ProcessingState = models.ProcessingInProgress })
		_, err := p.processing.RetryChapterProcessing(ctx, testChapterID)
		assert.ErrorIs(t, err, models.ErrNotRetryable)
	})

	t.Run("Failed without retry data", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		p.chapters.update(testChapterID, func(c *models.Chapter) {
			c.ProcessingState = models.ProcessingFailed
			c.ProcessingError = "boom"
		})
		_, err := p.processing.RetryChapterProcessing(ctx, testChapterID)
		assert.ErrorIs(t, err, models.ErrNotRetryable)
	})

	t.Run("Expired draft is not retryable", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		p.chapters.update(testChapterID, func(c *models.Chapter) {
			c.ProcessingState = models.ProcessingFailed
			c.ProcessingDraftToken = strings.Repeat("c", 64)
			c.ProcessingPages = []string{"p1"}
		})
		_, err := p.processing.RetryChapterProcessing(ctx, testChapterID)
		assert.ErrorIs(t, err, models.ErrNotRetryable)
		assert.Equal(t, models.ProcessingFailed, p.chapters.snapshot(testChapterID).ProcessingState)
	})

	t.Run("Unknown chapter", func(t *testing.T) {
		p := newPipeline(t)
		_, err := p.processing.RetryChapterProcessing(ctx, 999)
		assert.ErrorIs(t, err, models.ErrChapterNotFound)
	})
}

func TestChapterProcessing_Reconciliation(t *testing.T) {
	ctx := context.Background()

	t.Run("Replaced prefix is deleted", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)

		first, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		p.upload(t, first.Token, "p1", "p2")
		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, first.Token, []string{"p1", "p2"})
		require.NoError(t, err)
		p.waitTask(t, ticket.JobID)

		second, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		p.upload(t, second.Token, "x1")
		ticket, err = p.processing.CommitChapterPages(ctx, testChapterID, second.Token, []string{"x1"})
		require.NoError(t, err)
		task := p.waitTask(t, ticket.JobID)
		require.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)

		assert.Equal(t, []string{second.PagesPrefix + "/x1.webp"}, p.store.Keys())
		assert.Equal(t, second.PagesPrefix, p.chapters.snapshot(testChapterID).PagesPrefix)
	})

	t.Run("Same prefix shrink deletes only excess pages", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)

		draft, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		p.upload(t, draft.Token, "p1", "p2", "p3")
		p.chapters.update(testChapterID, func(c *models.Chapter) {
			c.PagesPrefix = draft.PagesPrefix
			c.PageIDs = []string{"p1", "p2", "p3"}
			c.Pages = 3
		})

		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1", "p2"})
		require.NoError(t, err)
		task := p.waitTask(t, ticket.JobID)
		require.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)

		assert.Equal(t, []string{draft.PagesPrefix + "/p1.webp", draft.PagesPrefix + "/p2.webp"}, p.store.Keys())
	})

	t.Run("Cleanup failure does not fail the chapter", func(t *testing.T) {
		p := newPipeline(t)
		p.chapters.addChapter(testChapterID, testMangaID)
		p.chapters.update(testChapterID, func(c *models.Chapter) {
			c.PagesPrefix = "/"
			c.PageIDs = []string{"old"}
		})

		draft, err := p.drafts.CreateDraft(ctx, testMangaID)
		require.NoError(t, err)
		p.upload(t, draft.Token, "p1")

		ticket, err := p.processing.CommitChapterPages(ctx, testChapterID, draft.Token, []string{"p1"})
		require.NoError(t, err)
		task := p.waitTask(t, ticket.JobID)
		assert.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)

		status, err := p.processing.GetProcessingStatus(ctx, testChapterID)
		require.NoError(t, err)
		assert.Equal(t, models.ChapterStatusDone, status.State)
		assert.NotEmpty(t, p.store.Keys())
	})
}

func TestChapterProcessing_RecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.chapters.addChapter(testChapterID, testMangaID)
	p.chapters.addChapter(testChapterID+1, testMangaID)

	draft, err := p.drafts.CreateDraft(ctx, testMangaID)
	require.NoError(t, err)
	p.upload(t, draft.Token, "p1")
	p.chapters.update(testChapterID, func(c *models.Chapter) {
		c.ProcessingState = models.ProcessingInProgress
		c.ProcessingDraftToken = draft.Token
		c.ProcessingPages = []string{"p1"}
	})

	n, err := p.processing.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, err := p.processing.GetProcessingStatus(ctx, testChapterID)
	require.NoError(t, err)
	assert.Equal(t, models.ChapterStatusFailed, status.State)
	assert.Equal(t, service.InterruptedDiagnostic, status.Error)

	other, err := p.processing.GetProcessingStatus(ctx, testChapterID+1)
	require.NoError(t, err)
	assert.Equal(t, models.ChapterStatusIdle, other.State)

	ticket, err := p.processing.RetryChapterProcessing(ctx, testChapterID)
	require.NoError(t, err)
	task := p.waitTask(t, ticket.JobID)
	assert.Equal(t, taskmanager.TaskStatusSucceeded, task.Status)
}
