// Package watch polls browse URLs and records when their fingerprint changes.
package watch

import (
	"context"
	"time"

	"github.com/tilsley/treereader/pkg/treereader"
)

// Watch is a browse URL under observation and the outcome of its last check.
type Watch struct {
	URL       string     `json:"url"`
	ETag      string     `json:"etag,omitempty"`
	Files     int        `json:"files"`
	CheckedAt *time.Time `json:"checkedAt,omitempty"`
	ChangedAt *time.Time `json:"changedAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Snapshot records a fingerprint change observed for a watched URL.
type Snapshot struct {
	URL        string    `json:"url"`
	ETag       string    `json:"etag"`
	Files      int       `json:"files"`
	ObservedAt time.Time `json:"observedAt"`
}

// Store persists watches and their snapshot history.
type Store interface {
	// Add registers url. Adding an existing url is a no-op.
	Add(ctx context.Context, url string) error
	// Remove deletes url and its history. Removing an unknown url is a no-op.
	Remove(ctx context.Context, url string) error
	// Get returns nil, nil when url is not watched.
	Get(ctx context.Context, url string) (*Watch, error)
	// List returns every watch ordered by URL.
	List(ctx context.Context) ([]Watch, error)
	// Update overwrites the check state of an existing watch.
	Update(ctx context.Context, w Watch) error
	RecordSnapshot(ctx context.Context, s Snapshot) error
	// Snapshots returns up to limit snapshots for url, newest first.
	Snapshots(ctx context.Context, url string, limit int) ([]Snapshot, error)
}

// TreeReader is the subset of treereader.Reader the poller needs.
type TreeReader interface {
	ReadTree(ctx context.Context, rawURL string, opts treereader.ReadTreeOptions) (*treereader.TreeResult, error)
}

// WatchNotFoundError is returned when an operation names a URL that is not watched.
type WatchNotFoundError struct {
	URL string
}

// Error implements the error interface.
func (e WatchNotFoundError) Error() string {
	return "watch " + e.URL + " not found"
}
