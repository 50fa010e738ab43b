package softlaunch_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/jrsteele09/go-access-broker/softlaunch"
	"github.com/stretchr/testify/require"
)

var testKey = softlaunch.Key{CourseCode: 101, PersonaID: 2002, CampusCode: 3, PeriodCode: 20251}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestKey_Validate(t *testing.T) {
	require.NoError(t, testKey.Validate())

	missing := testKey
	missing.CampusCode = 0
	require.ErrorIs(t, missing.Validate(), apperrors.ErrInvalidRequest)
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := softlaunch.NewInMemoryStore(30*24*time.Hour, c.Now)

	status, err := store.BlockStatus(ctx, testKey)
	require.NoError(t, err)
	require.True(t, status.Blocked)
	require.Nil(t, status.ReleaseEnd)

	n, err := store.Block(ctx, testKey)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = store.Release(ctx, testKey)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	status, err = store.BlockStatus(ctx, testKey)
	require.NoError(t, err)
	require.False(t, status.Blocked)
	require.Equal(t, day(2025, 4, 9), *status.ReleaseEnd)

	c.Advance(24 * time.Hour)
	n, err = store.Block(ctx, testKey)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	status, err = store.BlockStatus(ctx, testKey)
	require.NoError(t, err)
	require.True(t, status.Blocked)
	require.Equal(t, day(2025, 3, 11), *status.ReleaseEnd)

	_, err = store.Release(ctx, softlaunch.Key{})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestInMemoryStore_WindowExpires(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := softlaunch.NewInMemoryStore(48*time.Hour, c.Now)

	_, err := store.Release(ctx, testKey)
	require.NoError(t, err)

	c.Advance(24 * time.Hour)
	status, err := store.BlockStatus(ctx, testKey)
	require.NoError(t, err)
	require.False(t, status.Blocked)

	c.Advance(24 * time.Hour)
	status, err = store.BlockStatus(ctx, testKey)
	require.NoError(t, err)
	require.True(t, status.Blocked)
}

type fakeRow struct {
	start, end time.Time
	err        error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*time.Time) = r.start
	*dest[1].(*time.Time) = r.end
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	row   fakeRow
	tag   string
	err   error
	execs []execCall
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return q.row
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, execCall{sql: sql, args: args})
	if q.err != nil {
		return pgconn.CommandTag{}, q.err
	}
	return pgconn.NewCommandTag(q.tag), nil
}

func TestPostgresStore_BlockStatus(t *testing.T) {
	ctx := context.Background()
	c := newClock()

	t.Run("no row is blocked", func(t *testing.T) {
		store := softlaunch.NewPostgresStore(&fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}, time.Hour, c.Now)
		status, err := store.BlockStatus(ctx, testKey)
		require.NoError(t, err)
		require.True(t, status.Blocked)
	})

	t.Run("covering window is released", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{start: day(2025, 3, 1), end: day(2025, 4, 1)}}
		status, err := softlaunch.NewPostgresStore(q, time.Hour, c.Now).BlockStatus(ctx, testKey)
		require.NoError(t, err)
		require.False(t, status.Blocked)
		require.Equal(t, day(2025, 4, 1), *status.ReleaseEnd)
	})

	t.Run("window ending today is blocked", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{start: day(2025, 3, 1), end: day(2025, 3, 10)}}
		status, err := softlaunch.NewPostgresStore(q, time.Hour, c.Now).BlockStatus(ctx, testKey)
		require.NoError(t, err)
		require.True(t, status.Blocked)
	})

	t.Run("database error", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{err: errors.New("connection reset")}}
		_, err := softlaunch.NewPostgresStore(q, time.Hour, c.Now).BlockStatus(ctx, testKey)
		require.Error(t, err)
	})
}

func TestPostgresStore_ReleaseBlock(t *testing.T) {
	ctx := context.Background()
	c := newClock()

	q := &fakeQuerier{tag: "INSERT 0 1"}
	store := softlaunch.NewPostgresStore(q, 30*24*time.Hour, c.Now)

	n, err := store.Release(ctx, testKey)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Len(t, q.execs, 1)
	require.True(t, strings.Contains(q.execs[0].sql, "ON CONFLICT"))
	require.Equal(t, []any{int64(101), int64(2002), int64(3), int64(20251), day(2025, 3, 10), day(2025, 4, 9)}, q.execs[0].args)

	q.tag = "UPDATE 0"
	n, err = store.Block(ctx, testKey)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, day(2025, 3, 10), q.execs[1].args[4])

	_, err = store.Block(ctx, softlaunch.Key{CourseCode: 1})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	require.Len(t, q.execs, 2)

	q.err = errors.New("boom")
	_, err = store.Release(ctx, testKey)
	require.Error(t, err)
}
