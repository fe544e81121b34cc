package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tilsley/treereader/pkg/logging"
	"github.com/tilsley/treereader/pkg/treereader"
	"github.com/tilsley/treereader/pkg/treereader/bitbucket"
)

// cli carries the resolved configuration shared by the subcommands.
type cli struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "treectl",
		Short:         "Read file trees from Bitbucket Server browse URLs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Flags())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML file with hosts and allowUnknownHosts (env TREEREADER_CONFIG)")
	pf.String("api-base", "", "REST API root used when no hosts are configured (env TREEREADER_API_BASE)")
	pf.String("token", "", "HTTP access token used when no hosts are configured (env TREEREADER_TOKEN)")
	pf.String("temp-dir", "", "parent directory for extraction (env TREEREADER_TEMP_DIR)")
	pf.String("log-level", "warn", "debug, info, warn or error")
	pf.String("log-format", "text", "text or json")

	root.AddCommand(newReadCmd(c), newSearchCmd(c))
	return root
}

// load binds flags and environment, then reads the config file if one is named.
func (c *cli) load(flags *pflag.FlagSet) error {
	c.v.SetEnvPrefix("TREEREADER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	c.v.SetDefault("allowUnknownHosts", true)
	if err := c.v.BindPFlags(flags); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if path := c.v.GetString("config"); path != "" {
		c.v.SetConfigFile(path)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (c *cli) logger() *slog.Logger {
	return logging.NewWriter(c.stderr, c.v.GetString("log-format"), c.v.GetString("log-level"))
}

// source returns a host registry when the config lists hosts, and a single
// client built from --api-base and --token otherwise.
func (c *cli) source() (treereader.Source, error) {
	var hosts []bitbucket.HostConfig
	if err := c.v.UnmarshalKey("hosts", &hosts); err != nil {
		return nil, fmt.Errorf("decode hosts: %w", err)
	}
	if len(hosts) > 0 {
		return bitbucket.NewHosts(hosts, c.v.GetBool("allowUnknownHosts"))
	}
	return bitbucket.NewClient(c.v.GetString("api-base"), bitbucket.NewTokenClient(c.v.GetString("token")))
}

func (c *cli) reader() (*treereader.Reader, error) {
	src, err := c.source()
	if err != nil {
		return nil, err
	}
	return treereader.NewReader(src,
		treereader.WithLogger(c.logger()),
		treereader.WithTempDir(c.v.GetString("temp-dir")),
	), nil
}
