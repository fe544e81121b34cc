package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check: *PGStore implements Store.
var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Schema lives in pgmigrations.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a new PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Add(ctx context.Context, url string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watches (url) VALUES ($1) ON CONFLICT (url) DO NOTHING`, url)
	if err != nil {
		return fmt.Errorf("add watch %q: %w", url, err)
	}
	return nil
}

// Remove deletes the watch; its snapshots go with it via ON DELETE CASCADE.
func (s *PGStore) Remove(ctx context.Context, url string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM watches WHERE url = $1`, url); err != nil {
		return fmt.Errorf("remove watch %q: %w", url, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, url string) (*Watch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT url, etag, files, checked_at, changed_at, last_error
		 FROM watches WHERE url = $1`, url)
	w, err := scanWatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil //nolint:nilnil // caller checks nil value to detect "not found"
	}
	if err != nil {
		return nil, fmt.Errorf("get watch %q: %w", url, err)
	}
	return &w, nil
}

func (s *PGStore) List(ctx context.Context) ([]Watch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url, etag, files, checked_at, changed_at, last_error
		 FROM watches ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	out := []Watch{}
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan watches: %w", err)
	}
	return out, nil
}

func (s *PGStore) Update(ctx context.Context, w Watch) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watches
		 SET etag = $2, files = $3, checked_at = $4, changed_at = $5, last_error = $6
		 WHERE url = $1`,
		w.URL, w.ETag, w.Files, w.CheckedAt, w.ChangedAt, w.LastError)
	if err != nil {
		return fmt.Errorf("update watch %q: %w", w.URL, err)
	}
	if tag.RowsAffected() == 0 {
		return WatchNotFoundError{URL: w.URL}
	}
	return nil
}

func (s *PGStore) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (url, etag, files, observed_at)
		 SELECT url, $2, $3, $4 FROM watches WHERE url = $1`,
		snap.URL, snap.ETag, snap.Files, snap.ObservedAt)
	if err != nil {
		return fmt.Errorf("record snapshot for %q: %w", snap.URL, err)
	}
	if tag.RowsAffected() == 0 {
		return WatchNotFoundError{URL: snap.URL}
	}
	return nil
}

func (s *PGStore) Snapshots(ctx context.Context, url string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		return []Snapshot{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT url, etag, files, observed_at FROM snapshots
		 WHERE url = $1 ORDER BY observed_at DESC, id DESC LIMIT $2`, url, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %q: %w", url, err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.URL, &snap.ETag, &snap.Files, &snap.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.ObservedAt = snap.ObservedAt.UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return out, nil
}

func scanWatch(row pgx.Row) (Watch, error) {
	var (
		w                Watch
		checked, changed *time.Time
	)
	if err := row.Scan(&w.URL, &w.ETag, &w.Files, &checked, &changed, &w.LastError); err != nil {
		return Watch{}, err
	}
	w.CheckedAt = utc(checked)
	w.ChangedAt = utc(changed)
	return w, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
