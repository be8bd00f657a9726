package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-exam/internal/config"
	"github.com/stemsi/cbt-exam/internal/model"
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cbt",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Redis cache lookups by cache and result (hit, miss, error).",
	},
	[]string{"cache", "result"},
)

// examGenerationTTL bounds how long an invalidation counter outlives its last bump.
// It must exceed the longest read that can race an invalidation.
const examGenerationTTL = 24 * time.Hour

// setExamIfGeneration writes KEYS[1] only while the generation at KEYS[2] still equals ARGV[1].
// A missing generation key counts as 0.
var setExamIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// ExamCacheRepository keeps serialized exams in Redis for the read path.
// Every entry is paired with a generation counter so a read that raced an update or delete
// cannot write its stale row back.
type ExamCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewExamCacheRepository creates a new ExamCacheRepository.
func NewExamCacheRepository(rdb *redis.Client, ttl time.Duration) *ExamCacheRepository {
	return &ExamCacheRepository{rdb: rdb, ttl: ttl}
}

// Get returns the cached exam (nil on a miss) and the entry's current generation.
func (r *ExamCacheRepository) Get(ctx context.Context, id uuid.UUID) (*model.Exam, int64, error) {
	vals, err := r.rdb.MGet(ctx,
		config.CacheKey.ExamKey(id.String()),
		config.CacheKey.ExamGenerationKey(id.String()),
	).Result()
	if err != nil {
		cacheLookups.WithLabelValues("exam", "error").Inc()
		return nil, 0, fmt.Errorf("get exam cache: %w", err)
	}

	var gen int64
	if raw, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			cacheLookups.WithLabelValues("exam", "error").Inc()
			return nil, 0, fmt.Errorf("parse exam cache generation: %w", err)
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		cacheLookups.WithLabelValues("exam", "miss").Inc()
		return nil, gen, nil
	}

	var e model.Exam
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		cacheLookups.WithLabelValues("exam", "error").Inc()
		return nil, gen, fmt.Errorf("unmarshal exam cache: %w", err)
	}
	cacheLookups.WithLabelValues("exam", "hit").Inc()
	return &e, gen, nil
}

// Set stores an exam with the configured TTL, unless the entry was invalidated after
// generation was read. A skipped write is not an error.
func (r *ExamCacheRepository) Set(ctx context.Context, e *model.Exam, generation int64) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal exam cache: %w", err)
	}
	keys := []string{
		config.CacheKey.ExamKey(e.ID.String()),
		config.CacheKey.ExamGenerationKey(e.ID.String()),
	}
	return setExamIfGeneration.Run(ctx, r.rdb, keys, generation, data, r.ttl.Milliseconds()).Err()
}

// Invalidate drops the cached copy of an exam and bumps its generation.
func (r *ExamCacheRepository) Invalidate(ctx context.Context, id uuid.UUID) error {
	genKey := config.CacheKey.ExamGenerationKey(id.String())
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, config.CacheKey.ExamKey(id.String()))
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, examGenerationTTL)
		return nil
	})
	return err
}

// TokenCacheRepository caches resolved token principals. Keys are stored hashed.
type TokenCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTokenCacheRepository creates a new TokenCacheRepository.
func NewTokenCacheRepository(rdb *redis.Client, ttl time.Duration) *TokenCacheRepository {
	return &TokenCacheRepository{rdb: rdb, ttl: ttl}
}

func tokenCacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return config.CacheKey.AuthTokenKey(hex.EncodeToString(sum[:]))
}

// Get returns the cached principal for a token key, or (nil, nil) on a miss.
func (r *TokenCacheRepository) Get(ctx context.Context, key string) (*model.Principal, error) {
	data, err := r.rdb.Get(ctx, tokenCacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			cacheLookups.WithLabelValues("token", "miss").Inc()
			return nil, nil
		}
		cacheLookups.WithLabelValues("token", "error").Inc()
		return nil, fmt.Errorf("get token cache: %w", err)
	}

	var p model.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		cacheLookups.WithLabelValues("token", "error").Inc()
		return nil, fmt.Errorf("unmarshal token cache: %w", err)
	}
	cacheLookups.WithLabelValues("token", "hit").Inc()
	return &p, nil
}

// Set caches a principal for a token key.
func (r *TokenCacheRepository) Set(ctx context.Context, key string, p *model.Principal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal token cache: %w", err)
	}
	return r.rdb.Set(ctx, tokenCacheKey(key), data, r.ttl).Err()
}
