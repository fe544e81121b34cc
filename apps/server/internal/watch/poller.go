package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tilsley/treereader/pkg/treereader"
)

const instrName = "github.com/tilsley/treereader/apps/server/internal/watch"

// Result is the outcome of polling one watch.
type Result struct {
	URL     string `json:"url"`
	ETag    string `json:"etag,omitempty"`
	Changed bool   `json:"changed"`
	Files   int    `json:"files"`
	Error   string `json:"error,omitempty"`
}

// Poller re-reads every watched URL with its last known fingerprint so that
// unchanged trees cost a single branch-list request.
type Poller struct {
	reader TreeReader
	store  Store
	log    *slog.Logger
	now    func() time.Time

	polls metric.Int64Counter
}

// NewPoller creates a Poller.
func NewPoller(reader TreeReader, store Store, log *slog.Logger) *Poller {
	polls, _ := otel.Meter(instrName).Int64Counter("treereader.watch.polls",
		metric.WithDescription("Watch checks by outcome"))
	return &Poller{
		reader: reader,
		store:  store,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		polls:  polls,
	}
}

// Add validates rawURL and starts watching it.
func (p *Poller) Add(ctx context.Context, rawURL string) error {
	if _, err := treereader.ParseBrowseURL(rawURL); err != nil {
		return err
	}
	return p.store.Add(ctx, rawURL)
}

// PollOnce checks every watch once, in URL order. A failing URL is recorded
// on its watch and does not stop the others; only store failures and
// cancellation abort the pass. Watches removed while the pass runs are left
// out of the results.
func (p *Poller) PollOnce(ctx context.Context) ([]Result, error) {
	watches, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}

	results := make([]Result, 0, len(watches))
	for _, w := range watches {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.check(ctx, w)
		var gone WatchNotFoundError
		if errors.As(err, &gone) {
			p.log.Debug("watch removed during poll", "url", w.URL)
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Poller) check(ctx context.Context, w Watch) (Result, error) {
	tree, err := p.reader.ReadTree(ctx, w.URL, treereader.ReadTreeOptions{ETag: w.ETag})
	now := p.now()
	w.CheckedAt = &now
	res := Result{URL: w.URL, ETag: w.ETag, Files: w.Files}

	switch {
	case treereader.IsNotModified(err):
		w.LastError = ""
		p.count(ctx, "unchanged")
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		w.LastError = err.Error()
		res.Error = err.Error()
		p.count(ctx, "error")
		p.log.Warn("watch check failed", "url", w.URL, "error", err)
	default:
		w.ETag = tree.Fingerprint
		w.Files = len(tree.Files)
		w.ChangedAt = &now
		w.LastError = ""
		res.ETag, res.Files, res.Changed = w.ETag, w.Files, true
		p.count(ctx, "changed")
		p.log.Info("watch changed", "url", w.URL, "etag", w.ETag, "files", w.Files)

		snap := Snapshot{URL: w.URL, ETag: w.ETag, Files: w.Files, ObservedAt: now}
		if err := p.store.RecordSnapshot(ctx, snap); err != nil {
			return res, fmt.Errorf("record snapshot for %s: %w", w.URL, err)
		}
	}

	if err := p.store.Update(ctx, w); err != nil {
		return res, fmt.Errorf("update watch %s: %w", w.URL, err)
	}
	return res, nil
}

func (p *Poller) count(ctx context.Context, outcome string) {
	p.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("watch poller started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			p.log.Info("watch poller stopped")
			return
		case <-ticker.C:
			results, err := p.PollOnce(ctx)
			if err != nil && ctx.Err() == nil {
				p.log.Error("watch poll failed", "error", err)
				continue
			}
			p.log.Debug("watch poll complete", "checked", len(results))
		}
	}
}
