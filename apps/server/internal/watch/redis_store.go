package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisIndexKey     = "watches:index"
	redisKeyPrefix    = "watch:"
	redisSnapSuffix   = ":snapshots"
	redisMaxSnapshots = 100
)

// Compile-time check: *RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore implements Store using go-redis directly. Each watch is a JSON
// value; its history is a capped list, newest first.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func watchKey(url string) string    { return redisKeyPrefix + url }
func snapshotKey(url string) string { return redisKeyPrefix + url + redisSnapSuffix }

// Add stores an empty watch unless one exists, and indexes it.
func (s *RedisStore) Add(ctx context.Context, url string) error {
	data, err := json.Marshal(Watch{URL: url})
	if err != nil {
		return fmt.Errorf("marshal watch: %w", err)
	}
	if err := s.rdb.SetNX(ctx, watchKey(url), data, 0).Err(); err != nil {
		return fmt.Errorf("add watch %q: %w", url, err)
	}
	if err := s.rdb.SAdd(ctx, redisIndexKey, url).Err(); err != nil {
		return fmt.Errorf("update index for %q: %w", url, err)
	}
	return nil
}

// Remove deletes the watch, its history and its index entry.
func (s *RedisStore) Remove(ctx context.Context, url string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, watchKey(url), snapshotKey(url))
	pipe.SRem(ctx, redisIndexKey, url)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove watch %q: %w", url, err)
	}
	return nil
}

// Get retrieves a watch, returning nil if not found.
func (s *RedisStore) Get(ctx context.Context, url string) (*Watch, error) {
	val, err := s.rdb.Get(ctx, watchKey(url)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // caller checks nil value to detect "not found"
	}
	if err != nil {
		return nil, fmt.Errorf("get watch %q: %w", url, err)
	}
	var w Watch
	if err := json.Unmarshal([]byte(val), &w); err != nil {
		return nil, fmt.Errorf("unmarshal watch %q: %w", url, err)
	}
	return &w, nil
}

// List returns all indexed watches ordered by URL.
func (s *RedisStore) List(ctx context.Context) ([]Watch, error) {
	urls, err := s.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	sort.Strings(urls)

	result := make([]Watch, 0, len(urls))
	for _, url := range urls {
		w, err := s.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		if w != nil {
			result = append(result, *w)
		}
	}
	return result, nil
}

// Update overwrites an existing watch.
func (s *RedisStore) Update(ctx context.Context, w Watch) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal watch: %w", err)
	}
	ok, err := s.rdb.SetXX(ctx, watchKey(w.URL), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update watch %q: %w", w.URL, err)
	}
	if !ok {
		return WatchNotFoundError{URL: w.URL}
	}
	return nil
}

// RecordSnapshot prepends snap to the watch's history and trims it.
func (s *RedisStore) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	exists, err := s.rdb.Exists(ctx, watchKey(snap.URL)).Result()
	if err != nil {
		return fmt.Errorf("check watch %q: %w", snap.URL, err)
	}
	if exists == 0 {
		return WatchNotFoundError{URL: snap.URL}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, snapshotKey(snap.URL), data)
	pipe.LTrim(ctx, snapshotKey(snap.URL), 0, redisMaxSnapshots-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record snapshot for %q: %w", snap.URL, err)
	}
	return nil
}

// Snapshots returns up to limit snapshots, newest first.
func (s *RedisStore) Snapshots(ctx context.Context, url string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		return []Snapshot{}, nil
	}
	vals, err := s.rdb.LRange(ctx, snapshotKey(url), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %q: %w", url, err)
	}
	out := make([]Snapshot, 0, len(vals))
	for _, v := range vals {
		var snap Snapshot
		if err := json.Unmarshal([]byte(v), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}
