// Package bitbucket implements treereader.Source against the Bitbucket Server
// REST API (1.0): the paged branch listing and the archive download.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tilsley/treereader/pkg/treereader"
)

const (
	apiPath          = "/rest/api/1.0"
	defaultPageLimit = 100
	maxPages         = 1000
)

// Compile-time check: *Client implements treereader.Source.
var _ treereader.Source = (*Client)(nil)

// Client talks to one Bitbucket Server instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	pageLimit  int
}

// NewClient creates a Client for the REST API rooted at baseURL, e.g.
// "https://bitbucket.example.com/rest/api/1.0". An empty baseURL derives the
// API root from each request's browse URL. A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	c := &Client{httpClient: httpClient, pageLimit: defaultPageLimit}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse api base url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("api base url %q must be absolute", baseURL)
		}
		c.baseURL = u
	}
	return c, nil
}

// SetPageLimit sets the page size requested from the branch listing.
func (c *Client) SetPageLimit(n int) {
	if n > 0 {
		c.pageLimit = n
	}
}

// DefaultAPIBaseURL returns the REST root for the host serving loc.
func DefaultAPIBaseURL(loc treereader.Location) string {
	u := url.URL{Scheme: loc.Scheme, Host: loc.Host, Path: loc.ContextPath + apiPath}
	return u.String()
}

func (c *Client) repoURL(loc treereader.Location, elem ...string) (*url.URL, error) {
	base := c.baseURL
	if base == nil {
		u, err := url.Parse(DefaultAPIBaseURL(loc))
		if err != nil {
			return nil, fmt.Errorf("derive api base url: %w", err)
		}
		base = u
	}
	return base.JoinPath(append([]string{"projects", loc.Project, "repos", loc.Repo}, elem...)...), nil
}

// branchPage is one page of GET .../branches.
type branchPage struct {
	Values        []branchJSON `json:"values"`
	IsLastPage    *bool        `json:"isLastPage"`
	NextPageStart *int         `json:"nextPageStart"`
}

type branchJSON struct {
	ID           string `json:"id"`
	DisplayID    string `json:"displayId"`
	LatestCommit string `json:"latestCommit"`
	IsDefault    bool   `json:"isDefault"`
}

// ListBranches pages through the repository's branch list and returns every
// branch. Transport failures, non-2xx responses and malformed bodies are
// reported as treereader.UpstreamUnavailableError.
func (c *Client) ListBranches(ctx context.Context, loc treereader.Location) ([]treereader.Branch, error) {
	endpoint, err := c.repoURL(loc, "branches")
	if err != nil {
		return nil, err
	}

	var branches []treereader.Branch
	start := 0
	for range maxPages {
		u := *endpoint
		q := u.Query()
		q.Set("start", strconv.Itoa(start))
		q.Set("limit", strconv.Itoa(c.pageLimit))
		u.RawQuery = q.Encode()

		page, err := c.getBranchPage(ctx, u.String())
		if err != nil {
			return nil, err
		}
		for _, b := range page.Values {
			if b.DisplayID == "" || b.LatestCommit == "" {
				return nil, malformed(u.String(), fmt.Errorf("branch entry missing displayId or latestCommit"))
			}
			branches = append(branches, treereader.Branch{
				ID:           b.ID,
				DisplayID:    b.DisplayID,
				LatestCommit: b.LatestCommit,
				IsDefault:    b.IsDefault,
			})
		}

		if page.IsLastPage == nil || *page.IsLastPage {
			return branches, nil
		}
		if page.NextPageStart == nil || *page.NextPageStart <= start {
			return nil, malformed(u.String(), fmt.Errorf("invalid nextPageStart"))
		}
		start = *page.NextPageStart
	}
	return nil, malformed(endpoint.String(), fmt.Errorf("branch list exceeds %d pages", maxPages))
}

func (c *Client) getBranchPage(ctx context.Context, pageURL string) (*branchPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build branches request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, treereader.UpstreamUnavailableError{Op: "GET", URL: pageURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // non-actionable after reading

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, treereader.UpstreamUnavailableError{Op: "GET", URL: pageURL, StatusCode: resp.StatusCode}
	}

	var page branchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, malformed(pageURL, fmt.Errorf("decode branch list: %w", err))
	}
	if page.Values == nil {
		return nil, malformed(pageURL, fmt.Errorf("branch list has no values"))
	}
	return &page, nil
}

func malformed(u string, err error) error {
	return treereader.UpstreamUnavailableError{Op: "GET", URL: u, Err: err}
}

// FetchArchive requests a tgz archive of the repository at loc.Ref (the
// host's default branch when empty). Response headers are not inspected;
// the body is handed to the extractor as is.
func (c *Client) FetchArchive(ctx context.Context, loc treereader.Location) (io.ReadCloser, error) {
	u, err := c.repoURL(loc, "archive")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("format", "tgz")
	q.Set("prefix", loc.Project+"-"+loc.Repo)
	if loc.Ref != "" {
		q.Set("at", loc.Ref)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build archive request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, treereader.UpstreamUnavailableError{Op: "GET", URL: u.String(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close() //nolint:errcheck // body is discarded
		return nil, treereader.ArchiveFetchError{URL: u.String(), StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
