// Package config loads the server's host and watch configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tilsley/treereader/pkg/treereader/bitbucket"
)

// DefaultPollInterval is used when the file leaves pollInterval unset.
const DefaultPollInterval = 5 * time.Minute

// Config is the decoded YAML file named by TREEREADER_CONFIG.
type Config struct {
	Hosts             []bitbucket.HostConfig `yaml:"hosts"`
	AllowUnknownHosts bool                   `yaml:"allowUnknownHosts"`
	Watches           []WatchConfig          `yaml:"watches"`
	PollInterval      time.Duration          `yaml:"pollInterval"`
}

// WatchConfig seeds the watch store at startup.
type WatchConfig struct {
	URL string `yaml:"url"`
}

// Default is the configuration used when no file is given: any host is
// reachable anonymously and nothing is watched.
func Default() Config {
	return Config{AllowUnknownHosts: true, PollInterval: DefaultPollInterval}
}

// Load reads path. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses a YAML document and fills in defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PollInterval < 0 {
		return fmt.Errorf("pollInterval must be positive, got %s", c.PollInterval)
	}
	for i, h := range c.Hosts {
		if h.Host == "" {
			return fmt.Errorf("hosts[%d]: host is required", i)
		}
	}
	for i, w := range c.Watches {
		if w.URL == "" {
			return fmt.Errorf("watches[%d]: url is required", i)
		}
	}
	return nil
}
