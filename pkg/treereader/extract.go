package treereader

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/klauspost/compress/gzip"
)

// Entry is a regular file materialized in an extraction area.
// It is only readable inside the callback passed to Extractor.Extract.
type Entry struct {
	// Path is relative to the extraction root, slash separated.
	Path   string
	IsFile bool
	// Size is the size declared by the archive header.
	Size int64

	abs string
}

// Open opens the materialized file for reading.
func (e Entry) Open() (io.ReadCloser, error) {
	return os.Open(e.abs)
}

// Tree is the result of one extraction: every regular file under Root,
// sorted by path.
type Tree struct {
	Root    string
	dir     string
	entries []Entry
}

// Entries returns the extracted files in lexicographic path order.
func (t *Tree) Entries() []Entry {
	return t.entries
}

// Dir returns the temporary directory backing the tree.
func (t *Tree) Dir() string {
	return t.dir
}

// Extractor unpacks gzip-compressed tar streams into short-lived directories.
type Extractor struct {
	// TempDir is the parent of per-call extraction directories.
	// Empty means os.TempDir().
	TempDir string
	Log     *slog.Logger
}

// Extract streams the archive in r into a fresh temporary directory, keeping
// only regular files below root, and calls fn with the resulting Tree.
//
// Exactly one leading path component is stripped from every archive entry
// before comparing it against root. Entries outside root are never written.
// The directory is removed before Extract returns, whatever the outcome.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, root string, fn func(*Tree) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := os.MkdirTemp(e.TempDir, "treereader-*")
	if err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = fmt.Errorf("remove extraction dir: %w", rmErr)
		}
	}()

	tree, err := e.unpack(ctx, r, strings.Trim(root, "/"), dir)
	if err != nil {
		return err
	}
	return fn(tree)
}

func (e *Extractor) unpack(ctx context.Context, r io.Reader, root, dir string) (*Tree, error) {
	gz, err := gzip.NewReader(&ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, archiveErr(ctx, fmt.Errorf("gzip reader: %w", err))
	}
	defer gz.Close() //nolint:errcheck // close errors on readers are non-actionable

	tree := &Tree{Root: root, dir: dir}
	seen := make(map[string]int)
	buf := make([]byte, 32*1024)

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, archiveErr(ctx, fmt.Errorf("tar next: %w", err))
		}

		rel, ok := relativeTo(stripTopDir(hdr.Name), root)
		if !ok {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			e.logger().Debug("skipping non-regular entry", "name", hdr.Name, "type", string(hdr.Typeflag))
			continue
		}

		clean := path.Clean(rel)
		if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
			return nil, ArchiveFormatError{Err: fmt.Errorf("entry %q escapes extraction root", hdr.Name)}
		}

		abs := filepath.Join(dir, filepath.FromSlash(clean))
		if err := writeEntry(ctx, tr, abs, buf); err != nil {
			return nil, err
		}

		entry := Entry{Path: clean, IsFile: true, Size: hdr.Size, abs: abs}
		if i, dup := seen[clean]; dup {
			tree.entries[i] = entry
			continue
		}
		seen[clean] = len(tree.entries)
		tree.entries = append(tree.entries, entry)
	}

	if len(tree.entries) == 0 {
		return nil, EmptyTreeError{Root: root}
	}
	slices.SortFunc(tree.entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return tree, nil
}

func (e *Extractor) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.New(slog.DiscardHandler)
}

// writeEntry copies the current tar entry to abs. Read failures are archive
// format errors; write failures are local I/O errors.
func writeEntry(ctx context.Context, src io.Reader, abs string, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		if pathConflict(err) {
			return ArchiveFormatError{Err: fmt.Errorf("entry %s is nested under a file: %w", abs, err)}
		}
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(abs), err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		if pathConflict(err) {
			return ArchiveFormatError{Err: fmt.Errorf("entry %s collides with a directory: %w", abs, err)}
		}
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer f.Close() //nolint:errcheck // write errors are checked below

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write %s: %w", abs, werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return archiveErr(ctx, fmt.Errorf("read entry: %w", rerr))
		}
	}
}

// pathConflict reports whether err means a file and a directory were given
// the same path by the archive.
func pathConflict(err error) bool {
	return errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR) || errors.Is(err, fs.ErrExist)
}

// stripTopDir removes the archive's synthetic top-level directory,
// e.g. "PROJ-repo/docs/a.md" -> "docs/a.md".
func stripTopDir(name string) string {
	name = strings.TrimPrefix(name, "./")
	idx := strings.Index(name, "/")
	if idx == -1 {
		return ""
	}
	return name[idx+1:]
}

// relativeTo reports whether name lies strictly below root and returns the
// remainder. An empty root contains everything.
func relativeTo(name, root string) (string, bool) {
	name = strings.TrimSuffix(name, "/")
	if name == "" {
		return "", false
	}
	if root == "" {
		return name, true
	}
	rest, ok := strings.CutPrefix(name, root+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// archiveErr classifies a decoder failure. Cancellation surfaces as the
// context error rather than as a corrupt archive.
func archiveErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ArchiveFormatError{Err: err}
}

// ctxReader fails reads once ctx is done so a stalled stream stops promptly.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
