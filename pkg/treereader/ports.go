package treereader

import (
	"context"
	"io"
)

// Branch is a validated entry from a repository's branch list.
type Branch struct {
	// ID is the fully qualified ref, e.g. "refs/heads/main".
	ID string
	// DisplayID is the short name shown in browse URLs, e.g. "main".
	DisplayID    string
	LatestCommit string
	IsDefault    bool
}

// BranchLister returns every branch of the repository addressed by loc.
// Implementations live in the adapters layer (e.g. bitbucket.Client).
type BranchLister interface {
	ListBranches(ctx context.Context, loc Location) ([]Branch, error)
}

// ArchiveFetcher opens a gzip-compressed tar stream of the repository at loc.Ref.
// The caller closes the returned reader.
type ArchiveFetcher interface {
	FetchArchive(ctx context.Context, loc Location) (io.ReadCloser, error)
}

// Source is the full set of host capabilities a Reader needs.
type Source interface {
	BranchLister
	ArchiveFetcher
}
