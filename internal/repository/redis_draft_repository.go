package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"manga-server/internal/models"
)

const (
	draftKeyPrefix = "draft:"
	draftReapKey   = "drafts:reap"

	fieldMangaID   = "manga_id"
	fieldPrefix    = "prefix"
	fieldCreatedAt = "created_at"
	fieldTouchedAt = "touched_at"
)

// touchScript продлевает черновик атомарно: touched_at растет только вперед,
// TTL ключа сбрасывается, срок в индексе уборки только увеличивается.
// KEYS[1] - ключ черновика, KEYS[2] - индекс уборки.
// ARGV[1] - now (ms), ARGV[2] - ttl (ms), ARGV[3] - дедлайн (ms).
var touchScript = redis.NewScript(`
local prefix = redis.call('HGET', KEYS[1], 'prefix')
if not prefix then
	return 0
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'touched_at') or '0')
if tonumber(ARGV[1]) > cur then
	redis.call('HSET', KEYS[1], 'touched_at', ARGV[1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[2], 'GT', ARGV[3], prefix)
return 1
`)

var _ DraftRepository = (*redisDraftRepository)(nil)

// redisDraftRepository хранит черновик хешем с TTL ключа. Истечение
// отслеживает сам Redis, поэтому истекший черновик просто не находится.
type redisDraftRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisDraftRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) DraftRepository {
	return &redisDraftRepository{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisDraftRepo"),
	}
}

func (r *redisDraftRepository) TTL() time.Duration {
	return r.ttl
}

func (r *redisDraftRepository) Create(ctx context.Context, draft *models.DraftSession) error {
	key := draftKeyPrefix + draft.Token
	deadline := draft.LastTouchedAt.Add(r.ttl).UnixMilli()
	logFields := []zap.Field{zap.Int64("mangaID", draft.MangaID), zap.String("pagesPrefix", draft.PagesPrefix)}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldMangaID, draft.MangaID,
			fieldPrefix, draft.PagesPrefix,
			fieldCreatedAt, draft.CreatedAt.UnixMilli(),
			fieldTouchedAt, draft.LastTouchedAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, r.ttl)
		pipe.ZAdd(ctx, draftReapKey, redis.Z{Score: float64(deadline), Member: draft.PagesPrefix})
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to store draft in redis", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to store draft: %w", err)
	}
	r.logger.Debug("Draft stored", logFields...)
	return nil
}

func (r *redisDraftRepository) Get(ctx context.Context, token string) (*models.DraftSession, error) {
	values, err := r.client.HGetAll(ctx, draftKeyPrefix+token).Result()
	if err != nil {
		r.logger.Error("Failed to read draft from redis", zap.Error(err))
		return nil, fmt.Errorf("failed to read draft: %w", err)
	}
	if len(values) == 0 {
		return nil, models.ErrDraftNotFound
	}

	draft, err := parseDraftHash(token, values)
	if err != nil {
		r.logger.Error("Corrupted draft hash in redis", zap.Error(err))
		return nil, err
	}
	return draft, nil
}

func (r *redisDraftRepository) Touch(ctx context.Context, token string, now time.Time) (bool, error) {
	deadline := now.Add(r.ttl).UnixMilli()
	res, err := touchScript.Run(ctx, r.client,
		[]string{draftKeyPrefix + token, draftReapKey},
		now.UnixMilli(), r.ttl.Milliseconds(), deadline,
	).Int()
	if err != nil {
		r.logger.Error("Failed to touch draft", zap.Error(err))
		return false, fmt.Errorf("failed to touch draft: %w", err)
	}
	return res == 1, nil
}

func (r *redisDraftRepository) Delete(ctx context.Context, token string) error {
	key := draftKeyPrefix + token
	prefix, err := r.client.HGet(ctx, key, fieldPrefix).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read draft prefix: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if prefix != "" {
			pipe.ZRem(ctx, draftReapKey, prefix)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to delete draft", zap.String("pagesPrefix", prefix), zap.Error(err))
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	r.logger.Debug("Draft consumed", zap.String("pagesPrefix", prefix))
	return nil
}

func (r *redisDraftRepository) ExpiredPrefixes(ctx context.Context, before time.Time, limit int) ([]string, error) {
	prefixes, err := r.client.ZRangeByScore(ctx, draftReapKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired drafts: %w", err)
	}
	return prefixes, nil
}

func (r *redisDraftRepository) ForgetPrefix(ctx context.Context, prefix string) error {
	if err := r.client.ZRem(ctx, draftReapKey, prefix).Err(); err != nil {
		return fmt.Errorf("failed to forget draft prefix: %w", err)
	}
	return nil
}

func parseDraftHash(token string, values map[string]string) (*models.DraftSession, error) {
	mangaID, err := strconv.ParseInt(values[fieldMangaID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad %s in draft hash: %w", fieldMangaID, err)
	}
	createdMs, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad %s in draft hash: %w", fieldCreatedAt, err)
	}
	touchedMs, err := strconv.ParseInt(values[fieldTouchedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad %s in draft hash: %w", fieldTouchedAt, err)
	}
	return &models.DraftSession{
		Token:         token,
		MangaID:       mangaID,
		PagesPrefix:   values[fieldPrefix],
		CreatedAt:     time.UnixMilli(createdMs).UTC(),
		LastTouchedAt: time.UnixMilli(touchedMs).UTC(),
	}, nil
}
