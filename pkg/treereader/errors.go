package treereader

import (
	"errors"
	"fmt"
)

// InvalidURLError is returned when a browse URL cannot be parsed into a Location.
type InvalidURLError struct {
	URL    string
	Reason string
}

// Error implements the error interface.
func (e InvalidURLError) Error() string {
	return fmt.Sprintf("invalid browse url %q: %s", e.URL, e.Reason)
}

// RefNotFoundError is returned when the requested ref is not in the repository's
// branch list. An empty Ref means no branch was marked as the default.
type RefNotFoundError struct {
	Project string
	Repo    string
	Ref     string
}

// Error implements the error interface.
func (e RefNotFoundError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("no default branch in %s/%s", e.Project, e.Repo)
	}
	return fmt.Sprintf("ref %q not found in %s/%s", e.Ref, e.Project, e.Repo)
}

// UpstreamUnavailableError is returned when the SCM host could not be reached,
// answered the branch listing with a non-2xx status, or sent a malformed body.
type UpstreamUnavailableError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e UpstreamUnavailableError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: upstream returned %d", e.Op, e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: upstream unavailable", e.Op, e.URL)
	}
}

// Unwrap returns the underlying transport or decode error.
func (e UpstreamUnavailableError) Unwrap() error { return e.Err }

// ArchiveFetchError is returned when the archive endpoint answers with a non-2xx status.
type ArchiveFetchError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e ArchiveFetchError) Error() string {
	return fmt.Sprintf("GET %s returned %d", e.URL, e.StatusCode)
}

// ArchiveFormatError is returned when the archive payload is not a valid gzip-compressed tar stream.
type ArchiveFormatError struct {
	Err error
}

// Error implements the error interface.
func (e ArchiveFormatError) Error() string {
	return fmt.Sprintf("malformed archive: %v", e.Err)
}

// Unwrap returns the decoder error.
func (e ArchiveFormatError) Unwrap() error { return e.Err }

// EmptyTreeError is returned when no regular file in the archive lives under Root.
// An empty directory and a mistyped path are reported the same way.
type EmptyTreeError struct {
	Root string
}

// Error implements the error interface.
func (e EmptyTreeError) Error() string {
	if e.Root == "" {
		return "archive contains no files"
	}
	return fmt.Sprintf("no files under %q", e.Root)
}

// NotModifiedError is returned when the caller's etag equals the freshly
// resolved fingerprint. Callers should keep using their cached copy.
type NotModifiedError struct {
	ETag string
}

// Error implements the error interface.
func (e NotModifiedError) Error() string {
	return fmt.Sprintf("not modified since %s", e.ETag)
}

// IsNotModified reports whether err is, or wraps, a NotModifiedError.
func IsNotModified(err error) bool {
	var nm NotModifiedError
	return errors.As(err, &nm)
}
