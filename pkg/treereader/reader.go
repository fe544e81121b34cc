// Package treereader reads subtrees of remote repositories addressed by
// browse URLs.
//
// A call resolves the URL's ref to a short commit fingerprint, compares it
// with the caller's etag, and only then downloads and extracts the
// repository archive. Host access goes through the Source port; see the
// bitbucket subpackage for the REST implementation.
package treereader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrName = "github.com/tilsley/treereader"

// FileHandle is one file of a read result.
type FileHandle struct {
	// Path is relative to the directory that was read or searched.
	Path string
	// URL is the fully qualified browse URL of the file, including the "at" ref.
	URL     string
	content []byte
}

// Content returns the file's bytes. They are read while the extraction area
// is alive, so the handle stays usable after the call returns.
func (f FileHandle) Content() []byte {
	return f.content
}

// TreeResult is returned by ReadTree.
type TreeResult struct {
	Fingerprint string
	Files       []FileHandle
}

// SearchResult is returned by Search.
type SearchResult struct {
	Fingerprint string
	Files       []FileHandle
}

// ReadTreeOptions tunes a ReadTree call.
type ReadTreeOptions struct {
	// ETag is the fingerprint of the caller's cached copy, if any.
	ETag string
}

// SearchOptions tunes a Search call.
type SearchOptions struct {
	// ETag is the fingerprint of the caller's cached copy, if any.
	ETag string
}

// Reader implements ReadTree and Search over a Source. It holds no per-call
// state and is safe for concurrent use.
type Reader struct {
	source    Source
	extractor *Extractor
	log       *slog.Logger
	tracer    trace.Tracer

	reads    metric.Int64Counter
	files    metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the Reader's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reader) {
		r.log = log
		r.extractor.Log = log
	}
}

// WithTempDir sets the parent directory for per-call extraction areas.
func WithTempDir(dir string) Option {
	return func(r *Reader) { r.extractor.TempDir = dir }
}

// NewReader creates a Reader backed by source.
func NewReader(source Source, opts ...Option) *Reader {
	m := otel.Meter(instrName)

	reads, _ := m.Int64Counter("treereader.reads",
		metric.WithDescription("Tree reads by operation and outcome"))
	files, _ := m.Int64Counter("treereader.files",
		metric.WithDescription("Files returned to callers"))
	duration, _ := m.Float64Histogram("treereader.read.duration",
		metric.WithDescription("End-to-end read duration in milliseconds"),
		metric.WithUnit("ms"))

	r := &Reader{
		source:    source,
		extractor: &Extractor{},
		log:       slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer(instrName),
		reads:     reads,
		files:     files,
		duration:  duration,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadTree returns every file under the URL's subpath.
//
// If opts.ETag equals the resolved fingerprint a NotModifiedError is returned
// and no archive is requested.
func (r *Reader) ReadTree(ctx context.Context, rawURL string, opts ReadTreeOptions) (*TreeResult, error) {
	ctx, span := r.tracer.Start(ctx, "treereader.ReadTree")
	defer span.End()
	start := time.Now()

	res, err := r.readTree(ctx, rawURL, opts)

	n := 0
	if res != nil {
		n = len(res.Files)
	}
	r.observe(ctx, span, "read_tree", start, n, err)
	return res, err
}

func (r *Reader) readTree(ctx context.Context, rawURL string, opts ReadTreeOptions) (*TreeResult, error) {
	loc, err := ParseBrowseURL(rawURL)
	if err != nil {
		return nil, err
	}
	commit, fp, err := r.prepare(ctx, loc, opts.ETag)
	if err != nil {
		return nil, err
	}

	files, err := r.collect(ctx, loc, commit, loc.Subpath, nil)
	if err != nil {
		return nil, err
	}

	r.log.Info("tree read",
		"project", loc.Project, "repo", loc.Repo, "subpath", loc.Subpath,
		"fingerprint", fp, "files", len(files))
	return &TreeResult{Fingerprint: fp, Files: files}, nil
}

// Search returns the files matching the glob in the URL's subpath, e.g.
// ".../browse/docs/**/*.md". Only the directory before the first wildcard
// segment is extracted.
func (r *Reader) Search(ctx context.Context, rawURL string, opts SearchOptions) (*SearchResult, error) {
	ctx, span := r.tracer.Start(ctx, "treereader.Search")
	defer span.End()
	start := time.Now()

	res, err := r.search(ctx, rawURL, opts)

	n := 0
	if res != nil {
		n = len(res.Files)
	}
	r.observe(ctx, span, "search", start, n, err)
	return res, err
}

func (r *Reader) search(ctx context.Context, rawURL string, opts SearchOptions) (*SearchResult, error) {
	loc, err := ParseBrowseURL(rawURL)
	if err != nil {
		return nil, err
	}
	base, pattern := SplitGlob(loc.Subpath)
	if pattern == "" {
		return nil, InvalidURLError{URL: rawURL, Reason: "search requires a path pattern"}
	}
	glob, err := CompileGlob(pattern)
	if err != nil {
		return nil, InvalidURLError{URL: rawURL, Reason: err.Error()}
	}

	commit, fp, err := r.prepare(ctx, loc, opts.ETag)
	if err != nil {
		return nil, err
	}

	files, err := r.collect(ctx, loc, commit, base, glob)
	if err != nil {
		return nil, err
	}

	r.log.Info("tree searched",
		"project", loc.Project, "repo", loc.Repo, "base", base, "pattern", pattern,
		"fingerprint", fp, "matches", len(files))
	return &SearchResult{Fingerprint: fp, Files: files}, nil
}

// prepare resolves the branch behind loc and applies the not-modified
// short-circuit. It returns the full commit id and its fingerprint.
func (r *Reader) prepare(ctx context.Context, loc Location, etag string) (commit, fp string, err error) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("scm.host", loc.Host),
		attribute.String("scm.project", loc.Project),
		attribute.String("scm.repo", loc.Repo),
		attribute.String("scm.ref", loc.Ref),
	)

	commit, fp, err = r.resolveFingerprint(ctx, loc)
	if err != nil {
		return "", "", err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("scm.fingerprint", fp))

	if etag != "" && etag == fp {
		r.log.Debug("not modified", "project", loc.Project, "repo", loc.Repo, "fingerprint", fp)
		return commit, fp, NotModifiedError{ETag: fp}
	}
	return commit, fp, nil
}

func (r *Reader) resolveFingerprint(ctx context.Context, loc Location) (commit, fp string, err error) {
	branches, err := r.source.ListBranches(ctx, loc)
	if err != nil {
		return "", "", err
	}
	b, err := SelectBranch(loc, branches)
	if err != nil {
		return "", "", err
	}
	fp, err = ShortFingerprint(b.LatestCommit)
	if err != nil {
		return "", "", UpstreamUnavailableError{Op: "resolve branch", URL: loc.String(), Err: err}
	}
	return b.LatestCommit, fp, nil
}

// collect downloads the archive at commit and materializes the files below
// root, optionally restricted to glob matches. File URLs keep the ref the
// caller asked for.
func (r *Reader) collect(ctx context.Context, loc Location, commit, root string, glob *Glob) ([]FileHandle, error) {
	pinned := loc
	pinned.Ref = commit
	body, err := r.source.FetchArchive(ctx, pinned)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }() //nolint:errcheck // non-actionable after reading

	var files []FileHandle
	err = r.extractor.Extract(ctx, body, root, func(t *Tree) error {
		entries := t.Entries()
		if glob != nil {
			entries = glob.Filter(entries)
		}
		files = make([]FileHandle, 0, len(entries))
		for _, e := range entries {
			data, err := readEntry(e)
			if err != nil {
				return err
			}
			files = append(files, FileHandle{
				Path:    e.Path,
				URL:     loc.BrowseURL(joinRel(root, e.Path)),
				content: data,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func readEntry(e Entry) ([]byte, error) {
	f, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Path, err)
	}
	defer f.Close() //nolint:errcheck // close errors on readers are non-actionable

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Path, err)
	}
	return data, nil
}

func (r *Reader) observe(ctx context.Context, span trace.Span, op string, start time.Time, files int, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsNotModified(err):
		outcome = "not_modified"
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	r.reads.Add(ctx, 1, attrs)
	r.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
	if files > 0 {
		r.files.Add(ctx, int64(files), metric.WithAttributes(attribute.String("op", op)))
	}
}
