package watch_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgplatform "github.com/tilsley/treereader/apps/server/internal/platform/postgres"
	"github.com/tilsley/treereader/apps/server/internal/watch"
	"github.com/tilsley/treereader/apps/server/internal/watch/pgmigrations"
)

const (
	docsURL = "https://git.example.com/projects/PLAT/repos/handbook/browse/docs"
	apiURL  = "https://git.example.com/projects/PLAT/repos/api/browse"
)

// newRedisStore starts a miniredis server and returns a RedisStore backed by it.
func newRedisStore(t *testing.T) watch.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return watch.NewRedisStore(rdb)
}

// newPGStore returns a PGStore backed by a real PostgreSQL instance.
// Skips if POSTGRES_URL is not set.
func newPGStore(t *testing.T) watch.Store {
	t.Helper()
	pgURL := os.Getenv("POSTGRES_URL")
	if pgURL == "" {
		t.Skip("POSTGRES_URL not set, skipping Postgres integration tests")
	}
	pool, err := pgplatform.New(context.Background(), pgURL, pgmigrations.FS)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, err := pool.Exec(context.Background(), `DELETE FROM snapshots; DELETE FROM watches;`)
		require.NoError(t, err)
		pool.Close()
	})
	return watch.NewPGStore(pool)
}

var stores = map[string]func(t *testing.T) watch.Store{
	"memory":   func(*testing.T) watch.Store { return watch.NewMemoryStore() },
	"redis":    newRedisStore,
	"postgres": newPGStore,
}

func eachStore(t *testing.T, fn func(t *testing.T, s watch.Store)) {
	t.Helper()
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

// ─── Add / Get / List ────────────────────────────────────────────────────────

func TestStore_AddGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, docsURL))

		got, err := s.Get(ctx, docsURL)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, docsURL, got.URL)
		assert.Empty(t, got.ETag)
		assert.Nil(t, got.CheckedAt)
	})
}

func TestStore_Get_NotFound_ReturnsNil(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		got, err := s.Get(context.Background(), docsURL)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStore_Add_KeepsExistingState(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, docsURL))
		require.NoError(t, s.Update(ctx, watch.Watch{URL: docsURL, ETag: "0a1b2c3d4e5f", Files: 2}))

		require.NoError(t, s.Add(ctx, docsURL))

		got, err := s.Get(ctx, docsURL)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "0a1b2c3d4e5f", got.ETag)
		assert.Equal(t, 2, got.Files)
	})
}

func TestStore_List_OrderedByURL(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, docsURL))
		require.NoError(t, s.Add(ctx, apiURL))

		got, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, apiURL, got[0].URL)
		assert.Equal(t, docsURL, got[1].URL)
	})
}

func TestStore_List_Empty(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		got, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

// ─── Update ──────────────────────────────────────────────────────────────────

func TestStore_Update(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, docsURL))

		checked := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
		w := watch.Watch{URL: docsURL, ETag: "ffffeeeedddd", Files: 7, CheckedAt: &checked, LastError: "boom"}
		require.NoError(t, s.Update(ctx, w))

		got, err := s.Get(ctx, docsURL)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "ffffeeeedddd", got.ETag)
		assert.Equal(t, 7, got.Files)
		assert.Equal(t, "boom", got.LastError)
		require.NotNil(t, got.CheckedAt)
		assert.True(t, checked.Equal(*got.CheckedAt))
		assert.Nil(t, got.ChangedAt)
	})
}

func TestStore_Update_Unknown(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		err := s.Update(context.Background(), watch.Watch{URL: docsURL})
		require.ErrorAs(t, err, &watch.WatchNotFoundError{})
	})
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

func TestStore_Snapshots_NewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, docsURL))

		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, etag := range []string{"aaaaaaaaaaaa", "bbbbbbbbbbbb", "cccccccccccc"} {
			snap := watch.Snapshot{URL: docsURL, ETag: etag, Files: i + 1, ObservedAt: base.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, s.RecordSnapshot(ctx, snap))
		}

		got, err := s.Snapshots(ctx, docsURL, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "cccccccccccc", got[0].ETag)
		assert.Equal(t, "bbbbbbbbbbbb", got[1].ETag)
		assert.True(t, base.Add(2*time.Minute).Equal(got[0].ObservedAt))
	})
}

func TestStore_Snapshots_UnknownWatch(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		ctx := context.Background()
		err := s.RecordSnapshot(ctx, watch.Snapshot{URL: docsURL, ETag: "aaaaaaaaaaaa", ObservedAt: time.Now()})
		require.ErrorAs(t, err, &watch.WatchNotFoundError{})

		got, err := s.Snapshots(ctx, docsURL, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

// ─── Remove ──────────────────────────────────────────────────────────────────

func TestStore_Remove_DropsHistory(t *testing.T) {
	eachStore(t, func(t *testing.T, s watch.Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, docsURL))
		require.NoError(t, s.RecordSnapshot(ctx, watch.Snapshot{URL: docsURL, ETag: "aaaaaaaaaaaa", ObservedAt: time.Now()}))

		require.NoError(t, s.Remove(ctx, docsURL))
		require.NoError(t, s.Remove(ctx, docsURL))

		got, err := s.Get(ctx, docsURL)
		require.NoError(t, err)
		assert.Nil(t, got)

		snaps, err := s.Snapshots(ctx, docsURL, 10)
		require.NoError(t, err)
		assert.Empty(t, snaps)

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestRedisStore_SnapshotHistoryIsCapped(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, docsURL))

	for i := range 120 {
		snap := watch.Snapshot{URL: docsURL, ETag: "aaaaaaaaaaaa", Files: i, ObservedAt: time.Now()}
		require.NoError(t, s.RecordSnapshot(ctx, snap))
	}

	got, err := s.Snapshots(ctx, docsURL, 500)
	require.NoError(t, err)
	assert.Len(t, got, 100)
	assert.Equal(t, 119, got[0].Files)
}
