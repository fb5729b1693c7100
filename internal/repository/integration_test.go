package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"manga-server/internal/database"
	"manga-server/internal/models"
	"manga-server/internal/repository"
)

// RepositoryIntegrationSuite гоняет Postgres- и Redis-репозитории
// на настоящих контейнерах.
type RepositoryIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	rdContainer *tcredis.RedisContainer
	pgPool      *pgxpool.Pool
	redisClient *redis.Client
	logger      *zap.Logger

	chapters repository.ChapterRepository
	drafts   repository.DraftRepository
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("manga_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)
	require.NoError(s.T(), database.ApplyMigrations(dsn, s.logger), "Failed to run migrations")

	s.pgPool, err = database.NewPool(s.ctx, database.PoolConfig{DSN: dsn, MaxConns: 8}, s.logger)
	require.NoError(s.T(), err)

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	redisHost, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err)
	redisPort, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)
	s.redisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	require.NoError(s.T(), s.redisClient.Ping(s.ctx).Err())

	s.chapters = repository.NewPgChapterRepository(s.pgPool, s.logger)
	s.drafts = repository.NewRedisDraftRepository(s.redisClient, time.Hour, s.logger)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
	if s.rdContainer != nil {
		_ = s.rdContainer.Terminate(s.ctx)
	}
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	require.NoError(s.T(), s.redisClient.FlushDB(s.ctx).Err())
	_, err := s.pgPool.Exec(s.ctx, "TRUNCATE TABLE chapters, mangas RESTART IDENTITY CASCADE")
	require.NoError(s.T(), err)
}

func TestRepositoryIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("Docker client init error: %v", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		_ = cli.Close()
		t.Skipf("Docker daemon is not accessible: %v", err)
	}
	_ = cli.Close()

	suite.Run(t, new(RepositoryIntegrationSuite))
}

func (s *RepositoryIntegrationSuite) seedChapter(mangaID int64, number float64) int64 {
	_, err := s.pgPool.Exec(s.ctx, `INSERT INTO mangas (id, title) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		mangaID, fmt.Sprintf("Manga %d", mangaID))
	require.NoError(s.T(), err)

	var id int64
	err = s.pgPool.QueryRow(s.ctx, `INSERT INTO chapters (manga_id, number) VALUES ($1, $2) RETURNING id`,
		mangaID, number).Scan(&id)
	require.NoError(s.T(), err)
	return id
}

func (s *RepositoryIntegrationSuite) TestProcessingLifecycle() {
	t := s.T()
	id := s.seedChapter(1, 1)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.chapters.BeginProcessing(s.ctx, id, "tok", []string{"a", "b"}, now))
	err := s.chapters.BeginProcessing(s.ctx, id, "tok2", []string{"c"}, now)
	require.ErrorIs(t, err, models.ErrAlreadyProcessing)

	chapter, err := s.chapters.GetByID(s.ctx, id)
	require.NoError(t, err)
	s.Equal(models.ProcessingInProgress, chapter.ProcessingState)
	s.Equal("tok", chapter.ProcessingDraftToken)
	s.Equal([]string{"a", "b"}, chapter.ProcessingPages)

	previous, err := s.chapters.FinalizeProcessing(s.ctx, models.FinalizeInput{
		ChapterID:   id,
		PagesPrefix: "drafts/1/p1",
		PageIDs:     []string{"a", "b"},
		FinalizedAt: now,
	})
	require.NoError(t, err)
	s.Empty(previous.PagesPrefix)

	chapter, err = s.chapters.GetByID(s.ctx, id)
	require.NoError(t, err)
	s.Equal(models.ProcessingNone, chapter.ProcessingState)
	s.Equal(2, chapter.Pages)
	s.Equal([]string{"a", "b"}, chapter.PageIDs)
	s.Equal("drafts/1/p1", chapter.PagesPrefix)
	s.Empty(chapter.ProcessingDraftToken)
	s.Empty(chapter.ProcessingPages)

	published, err := s.chapters.IsPrefixPublished(s.ctx, "drafts/1/p1")
	require.NoError(t, err)
	s.True(published)

	// Второй цикл возвращает прежний опубликованный набор.
	require.NoError(t, s.chapters.BeginProcessing(s.ctx, id, "tok3", []string{"b"}, now))
	previous, err = s.chapters.FinalizeProcessing(s.ctx, models.FinalizeInput{
		ChapterID: id, PagesPrefix: "drafts/1/p2", PageIDs: []string{"b"}, FinalizedAt: now,
	})
	require.NoError(t, err)
	s.Equal("drafts/1/p1", previous.PagesPrefix)
	s.Equal([]string{"a", "b"}, previous.PageIDs)
}

func (s *RepositoryIntegrationSuite) TestFinalizeRequiresProcessing() {
	id := s.seedChapter(1, 1)
	_, err := s.chapters.FinalizeProcessing(s.ctx, models.FinalizeInput{
		ChapterID: id, PagesPrefix: "x", PageIDs: []string{"a"}, FinalizedAt: time.Now(),
	})
	s.ErrorIs(err, models.ErrConflict)

	_, err = s.chapters.FinalizeProcessing(s.ctx, models.FinalizeInput{
		ChapterID: 999, PagesPrefix: "x", PageIDs: []string{"a"}, FinalizedAt: time.Now(),
	})
	s.ErrorIs(err, models.ErrChapterNotFound)
}

func (s *RepositoryIntegrationSuite) TestFailAndRearm() {
	t := s.T()
	id := s.seedChapter(1, 1)
	now := time.Now()

	_, err := s.chapters.RearmProcessing(s.ctx, id, now)
	require.ErrorIs(t, err, models.ErrNotRetryable)

	require.NoError(t, s.chapters.BeginProcessing(s.ctx, id, "tok", []string{"a"}, now))
	require.NoError(t, s.chapters.FailProcessing(s.ctx, id, "missing uploaded pages: a", now))

	chapter, err := s.chapters.GetByID(s.ctx, id)
	require.NoError(t, err)
	s.Equal(models.ProcessingFailed, chapter.ProcessingState)
	s.Equal("missing uploaded pages: a", chapter.ProcessingError)
	s.True(chapter.HasRetryData())

	// Повторный FailProcessing вне processing ничего не меняет.
	require.NoError(t, s.chapters.FailProcessing(s.ctx, id, "other", now))

	chapter, err = s.chapters.RearmProcessing(s.ctx, id, now)
	require.NoError(t, err)
	s.Equal(models.ProcessingInProgress, chapter.ProcessingState)
	s.Empty(chapter.ProcessingError)
	s.Equal("tok", chapter.ProcessingDraftToken)

	_, err = s.chapters.RearmProcessing(s.ctx, 999, now)
	s.ErrorIs(err, models.ErrChapterNotFound)
}

func (s *RepositoryIntegrationSuite) TestFailInterrupted() {
	t := s.T()
	a := s.seedChapter(1, 1)
	b := s.seedChapter(1, 2)
	idle := s.seedChapter(1, 3)
	now := time.Now()

	require.NoError(t, s.chapters.BeginProcessing(s.ctx, a, "t1", []string{"x"}, now))
	require.NoError(t, s.chapters.BeginProcessing(s.ctx, b, "t2", []string{"y"}, now))

	ids, err := s.chapters.FailInterrupted(s.ctx, "processing interrupted by server restart", now)
	require.NoError(t, err)
	s.ElementsMatch([]int64{a, b}, ids)

	chapter, err := s.chapters.GetByID(s.ctx, idle)
	require.NoError(t, err)
	s.Equal(models.ProcessingNone, chapter.ProcessingState)
}

func (s *RepositoryIntegrationSuite) TestConcurrentBeginProcessing() {
	id := s.seedChapter(1, 1)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		busy     int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.chapters.BeginProcessing(s.ctx, id, fmt.Sprintf("tok-%d", i), []string{"a"}, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, models.ErrAlreadyProcessing):
				busy++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, accepted)
	s.Equal(7, busy)
}

func (s *RepositoryIntegrationSuite) TestDeleteChapterAndManga() {
	t := s.T()
	first := s.seedChapter(1, 1)
	s.seedChapter(1, 2)

	exists, err := s.chapters.MangaExists(s.ctx, 1)
	require.NoError(t, err)
	s.True(exists)

	deleted, err := s.chapters.Delete(s.ctx, first)
	require.NoError(t, err)
	s.Equal(int64(1), deleted.MangaID)

	_, err = s.chapters.Delete(s.ctx, first)
	s.ErrorIs(err, models.ErrChapterNotFound)

	chapters, err := s.chapters.DeleteManga(s.ctx, 1)
	require.NoError(t, err)
	s.Len(chapters, 1)

	exists, err = s.chapters.MangaExists(s.ctx, 1)
	require.NoError(t, err)
	s.False(exists)

	_, err = s.chapters.DeleteManga(s.ctx, 1)
	s.ErrorIs(err, models.ErrMangaNotFound)
}

func (s *RepositoryIntegrationSuite) TestRedisDraftLifecycle() {
	t := s.T()
	token, err := models.NewDraftToken()
	require.NoError(t, err)
	created := time.Now().UTC().Truncate(time.Millisecond)
	draft := &models.DraftSession{
		Token:         token,
		MangaID:       7,
		PagesPrefix:   models.DraftPagesPrefix(7, token),
		CreatedAt:     created,
		LastTouchedAt: created,
	}
	require.NoError(t, s.drafts.Create(s.ctx, draft))

	got, err := s.drafts.Get(s.ctx, token)
	require.NoError(t, err)
	s.Equal(draft.PagesPrefix, got.PagesPrefix)
	s.True(got.LastTouchedAt.Equal(created))

	// touched_at только растет.
	alive, err := s.drafts.Touch(s.ctx, token, created.Add(-time.Minute))
	require.NoError(t, err)
	s.True(alive)
	got, err = s.drafts.Get(s.ctx, token)
	require.NoError(t, err)
	s.True(got.LastTouchedAt.Equal(created))

	later := created.Add(10 * time.Minute)
	alive, err = s.drafts.Touch(s.ctx, token, later)
	require.NoError(t, err)
	s.True(alive)
	got, err = s.drafts.Get(s.ctx, token)
	require.NoError(t, err)
	s.True(got.LastTouchedAt.Equal(later))

	// Срок в индексе уборки сдвинулся вместе с touch.
	expired, err := s.drafts.ExpiredPrefixes(s.ctx, created.Add(time.Hour+time.Minute), 10)
	require.NoError(t, err)
	s.Empty(expired)
	expired, err = s.drafts.ExpiredPrefixes(s.ctx, later.Add(time.Hour+time.Minute), 10)
	require.NoError(t, err)
	s.Equal([]string{draft.PagesPrefix}, expired)

	require.NoError(t, s.drafts.Delete(s.ctx, token))
	_, err = s.drafts.Get(s.ctx, token)
	s.ErrorIs(err, models.ErrDraftNotFound)
	expired, err = s.drafts.ExpiredPrefixes(s.ctx, later.Add(24*time.Hour), 10)
	require.NoError(t, err)
	s.Empty(expired)

	alive, err = s.drafts.Touch(s.ctx, token, later)
	require.NoError(t, err)
	s.False(alive)
}

func (s *RepositoryIntegrationSuite) TestRedisForgetPrefix() {
	t := s.T()
	now := time.Now()
	for _, token := range []string{"a", "b"} {
		require.NoError(t, s.drafts.Create(s.ctx, &models.DraftSession{
			Token: token, MangaID: 1, PagesPrefix: "drafts/1/" + token, CreatedAt: now, LastTouchedAt: now,
		}))
	}

	expired, err := s.drafts.ExpiredPrefixes(s.ctx, now.Add(2*time.Hour), 1)
	require.NoError(t, err)
	s.Len(expired, 1)

	require.NoError(t, s.drafts.ForgetPrefix(s.ctx, "drafts/1/a"))
	expired, err = s.drafts.ExpiredPrefixes(s.ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	s.Equal([]string{"drafts/1/b"}, expired)
}
