package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionCache(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr())
	defer r.Close()
	ctx := context.Background()

	assert.True(t, r.Healthy(ctx))

	cache := NewCompletionCache(r.Client, "")
	done, err := cache.IsCompleted(ctx, "stu-1", "2026-10-14")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, cache.MarkCompleted(ctx, "stu-1", "2026-10-14", 2*time.Hour))
	done, err = cache.IsCompleted(ctx, "stu-1", "2026-10-14")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 2*time.Hour, mr.TTL("attendance:done:2026-10-14:stu-1"))

	done, err = cache.IsCompleted(ctx, "stu-1", "2026-10-15")
	require.NoError(t, err)
	assert.False(t, done)

	mr.FastForward(2 * time.Hour)
	done, err = cache.IsCompleted(ctx, "stu-1", "2026-10-14")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, cache.MarkCompleted(ctx, "stu-2", "2026-10-14", 0))
	assert.Equal(t, time.Minute, mr.TTL("attendance:done:2026-10-14:stu-2"))
}

func TestRedisUnhealthy(t *testing.T) {
	var r *Redis
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	r = NewRedis(mr.Addr())
	defer r.Close()
	mr.Close()
	assert.False(t, r.Healthy(context.Background()))
}

func TestSchema(t *testing.T) {
	s := Schema("Asia/Kolkata")
	assert.Contains(t, s, "((intime AT TIME ZONE 'Asia/Kolkata')::date)")
	assert.Contains(t, s, "CREATE UNIQUE INDEX IF NOT EXISTS attendance_records_student_day")
	assert.NotContains(t, s, "day TEXT")

	assert.Contains(t, Schema("x'y"), "'x''y'")
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS attendance_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db, "Asia/Kolkata"))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, Migrate(context.Background(), db, ""))
}

func TestDBNil(t *testing.T) {
	var d *DB
	assert.False(t, d.Healthy(context.Background()))
	assert.NoError(t, d.Close())
}
