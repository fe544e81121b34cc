package bitbucket

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tilsley/treereader/pkg/treereader"
)

// HostConfig describes one Bitbucket Server instance. It is decoded from the
// "hosts" list of the YAML config by both yaml.v3 and viper.
type HostConfig struct {
	// Host is matched against the browse URL's host, including any port.
	Host string `yaml:"host" mapstructure:"host"`
	// APIBaseURL overrides the REST root. Empty derives it from the browse URL.
	APIBaseURL string `yaml:"apiBaseUrl" mapstructure:"apiBaseUrl"`
	Token      string `yaml:"token" mapstructure:"token"`
	// TokenEnv names an environment variable holding the token. Token wins when both are set.
	TokenEnv string `yaml:"tokenEnv" mapstructure:"tokenEnv"`
}

func (h HostConfig) token() string {
	if h.Token != "" {
		return h.Token
	}
	if h.TokenEnv != "" {
		return os.Getenv(h.TokenEnv)
	}
	return ""
}

// Compile-time check: *Hosts implements treereader.Source.
var _ treereader.Source = (*Hosts)(nil)

// Hosts routes each request to the Client configured for the browse URL's host.
type Hosts struct {
	clients  map[string]*Client
	fallback *Client
}

// NewHosts builds a Client per configured host. When allowUnknown is set,
// hosts without an entry are reached anonymously at their default API root;
// otherwise they are rejected with treereader.InvalidURLError.
func NewHosts(cfgs []HostConfig, allowUnknown bool) (*Hosts, error) {
	h := &Hosts{clients: make(map[string]*Client, len(cfgs))}
	for _, cfg := range cfgs {
		key := strings.ToLower(cfg.Host)
		if key == "" {
			return nil, fmt.Errorf("host config entry has no host")
		}
		if _, dup := h.clients[key]; dup {
			return nil, fmt.Errorf("host %q configured twice", cfg.Host)
		}
		c, err := NewClient(cfg.APIBaseURL, NewTokenClient(cfg.token()))
		if err != nil {
			return nil, fmt.Errorf("host %q: %w", cfg.Host, err)
		}
		h.clients[key] = c
	}
	if allowUnknown {
		c, err := NewClient("", nil)
		if err != nil {
			return nil, err
		}
		h.fallback = c
	}
	return h, nil
}

func (h *Hosts) client(loc treereader.Location) (*Client, error) {
	if c, ok := h.clients[strings.ToLower(loc.Host)]; ok {
		return c, nil
	}
	if h.fallback != nil {
		return h.fallback, nil
	}
	return nil, treereader.InvalidURLError{URL: loc.String(), Reason: fmt.Sprintf("host %q is not configured", loc.Host)}
}

// ListBranches implements treereader.BranchLister.
func (h *Hosts) ListBranches(ctx context.Context, loc treereader.Location) ([]treereader.Branch, error) {
	c, err := h.client(loc)
	if err != nil {
		return nil, err
	}
	return c.ListBranches(ctx, loc)
}

// FetchArchive implements treereader.ArchiveFetcher.
func (h *Hosts) FetchArchive(ctx context.Context, loc treereader.Location) (io.ReadCloser, error) {
	c, err := h.client(loc)
	if err != nil {
		return nil, err
	}
	return c.FetchArchive(ctx, loc)
}
