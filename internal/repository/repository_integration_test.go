//go:build integration

package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-exam/internal/config"
	"github.com/stemsi/cbt-exam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool migrates TEST_DATABASE_URL to the latest schema and empties the tables.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	m, err := migrate.New("file://../../migrations", url)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	m.Close()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE exam_audit_logs, exams, cbt_users, auth_tokens, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	return rdb
}

func TestExamRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewExamRepository(testPool(t))

	exam := &model.Exam{Title: "Computer Science 101", Description: "intro", ExamCode: "CSC 101"}
	require.NoError(t, repo.Create(ctx, exam))
	assert.NotEqual(t, uuid.Nil, exam.ID)
	assert.False(t, exam.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "CSC 101", got.ExamCode)

	exam.Title = "Computer Science 101 - B"
	require.NoError(t, repo.Update(ctx, exam))
	got, err = repo.GetByID(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Computer Science 101 - B", got.Title)

	require.NoError(t, repo.Delete(ctx, exam.ID))
	assert.ErrorIs(t, repo.Delete(ctx, exam.ID), pgx.ErrNoRows)

	_, err = repo.GetByID(ctx, exam.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	missing := &model.Exam{ID: uuid.New(), Title: "t", Description: "d", ExamCode: "c"}
	assert.ErrorIs(t, repo.Update(ctx, missing), pgx.ErrNoRows)
}

func TestExamRepository_ListPaginated(t *testing.T) {
	ctx := context.Background()
	repo := NewExamRepository(testPool(t))

	for _, code := range []string{"A", "B", "C"} {
		require.NoError(t, repo.Create(ctx, &model.Exam{Title: code, Description: "d", ExamCode: code}))
		time.Sleep(5 * time.Millisecond)
	}

	page, total, err := repo.ListPaginated(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "C", page[0].ExamCode)

	page, _, err = repo.ListPaginated(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "A", page[0].ExamCode)
}

func TestExamRepository_DescriptionColumnLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewExamRepository(testPool(t))

	tooLong := make([]rune, model.ExamDescriptionMaxLength+1)
	for i := range tooLong {
		tooLong[i] = 'w'
	}
	err := repo.Create(ctx, &model.Exam{Title: "t", Description: string(tooLong), ExamCode: "c"})
	assert.Error(t, err)
}

func TestUserRepository_Accounts(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)
	repo := NewUserRepository(pool)

	user := &model.User{Username: "diaP123", Email: "dia@example.com", PasswordHash: "x", IsActive: true}
	token := &model.AuthToken{Key: "0123456789abcdef0123456789abcdef01234567"}
	profile, err := repo.CreateAccount(ctx, user, token, false)
	require.NoError(t, err)
	assert.Nil(t, profile)

	p, err := repo.FindPrincipalByToken(ctx, token.Key)
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.False(t, p.HasCBTProfile())

	found, err := repo.FindByUsername(ctx, "diaP123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "dia@example.com", found.Email)
	_, err = repo.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	cbt := &model.CBTUser{UserID: user.ID}
	require.NoError(t, repo.CreateCBTUser(ctx, cbt))
	assert.ErrorIs(t, repo.CreateCBTUser(ctx, &model.CBTUser{UserID: user.ID}), ErrProfileExists)
	p, err = repo.FindPrincipalByToken(ctx, token.Key)
	require.NoError(t, err)
	require.True(t, p.HasCBTProfile())
	assert.Equal(t, cbt.ID, *p.CBTUserID)

	dup := &model.User{Username: "diaP123", PasswordHash: "x", IsActive: true}
	_, err = repo.CreateAccount(ctx, dup, &model.AuthToken{Key: "fedcba9876543210fedcba9876543210fedcba98"}, true)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = pool.Exec(ctx, `UPDATE users SET is_active = FALSE WHERE id = $1`, user.ID)
	require.NoError(t, err)
	_, err = repo.FindPrincipalByToken(ctx, token.Key)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	_, err = repo.FindPrincipalByToken(ctx, "unknown")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestAuditLogRepository_Insert(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditLogRepository(testPool(t))
	examID := uuid.New()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, model.ExamAuditEvent{ExamID: examID, Action: model.AuditActionCreate, UserID: 1, RequestID: "r1", OccurredAt: at}))
	require.NoError(t, repo.Insert(ctx, model.ExamAuditEvent{ExamID: examID, Action: model.AuditActionDelete, UserID: 1, OccurredAt: at}))

	rows, err := repo.pool.Query(ctx,
		`SELECT action, request_id, occurred_at FROM exam_audit_logs WHERE exam_id = $1 ORDER BY id`, examID)
	require.NoError(t, err)
	defer rows.Close()
	type auditRow struct {
		action     string
		requestID  *string
		occurredAt time.Time
	}
	var got []auditRow
	for rows.Next() {
		var r auditRow
		require.NoError(t, rows.Scan(&r.action, &r.requestID, &r.occurredAt))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2)
	assert.Equal(t, string(model.AuditActionCreate), got[0].action)
	require.NotNil(t, got[0].requestID)
	assert.Equal(t, "r1", *got[0].requestID)
	assert.Nil(t, got[1].requestID)
	assert.True(t, at.Equal(got[0].occurredAt))
}

func TestExamCacheRepository(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	cache := NewExamCacheRepository(rdb, time.Minute)

	exam := &model.Exam{ID: uuid.New(), Title: "t", Description: "d", ExamCode: "c"}
	got, gen, err := cache.Get(ctx, exam.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, gen)

	require.NoError(t, cache.Set(ctx, exam, gen))
	got, _, err = cache.Get(ctx, exam.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, exam.Title, got.Title)

	ttl, err := rdb.TTL(ctx, config.CacheKey.ExamKey(exam.ID.String())).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, cache.Invalidate(ctx, exam.ID))
	got, gen, err = cache.Get(ctx, exam.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), gen)
}

func TestExamCacheRepository_SetWithStaleGenerationIsDropped(t *testing.T) {
	ctx := context.Background()
	cache := NewExamCacheRepository(testRedis(t), time.Minute)
	exam := &model.Exam{ID: uuid.New(), Title: "old", Description: "d", ExamCode: "c"}

	_, staleGen, err := cache.Get(ctx, exam.ID)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, exam.ID))

	require.NoError(t, cache.Set(ctx, exam, staleGen))

	got, gen, err := cache.Get(ctx, exam.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Set(ctx, exam, gen))
	got, _, err = cache.Get(ctx, exam.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestTokenCacheRepository_StoresHashedKey(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	cache := NewTokenCacheRepository(rdb, time.Minute)
	key := "0123456789abcdef0123456789abcdef01234567"

	require.NoError(t, cache.Set(ctx, key, &model.Principal{UserID: 4, Username: "u"}))

	p, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 4, p.UserID)

	n, err := rdb.Exists(ctx, config.CacheKey.AuthTokenKey(key)).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "raw token key must not appear in Redis")
}

func TestAuditQueueRepository(t *testing.T) {
	ctx := context.Background()
	q := NewAuditQueueRepository(testRedis(t))

	raw, ok, err := q.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, raw)

	require.NoError(t, q.Publish(ctx, model.ExamAuditEvent{ExamID: uuid.New(), Action: model.AuditActionUpdate, UserID: 2}))
	require.NoError(t, q.Requeue(ctx, `{"action":"DELETE"}`))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, ok, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"UPDATE"`)

	raw, ok, err = q.TryPop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"DELETE"`)

	_, ok, err = q.TryPop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuditQueueRepository_DeadLetter(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	q := NewAuditQueueRepository(rdb)

	require.NoError(t, q.DeadLetter(ctx, "{not json"))

	n, err := q.DeadLetterLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "dead-lettered events must not return to the work queue")

	parked, err := rdb.LRange(ctx, config.WorkerKey.ExamAuditDeadLetter, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"{not json"}, parked)
}
