// Package cli implements the operator command line. Local commands build the
// engine from the server configuration; limits talks to a running daemon.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/gophsync/internal/api"
	"github.com/dmitrijs2005/gophsync/internal/client/grpcclient"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/shared/db"
	"github.com/spf13/cobra"
)

// Remote is the part of the API client the CLI uses.
type Remote interface {
	RateLimitSnapshot(ctx context.Context) ([]api.Usage, error)
	Close() error
}

// Options replace the defaults in tests.
type Options struct {
	Out io.Writer
	// Engine builds the local engine; nil loads the configuration file.
	Engine func(ctx context.Context, configPath string) (*server.Engine, error)
	// Remote dials the daemon; nil uses grpcclient.
	Remote func(endpoint, token string) (Remote, error)
}

type cli struct {
	opts       Options
	configPath string
}

func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	c := &cli{opts: opts}
	if c.opts.Engine == nil {
		c.opts.Engine = buildEngine
	}
	if c.opts.Remote == nil {
		c.opts.Remote = func(endpoint, token string) (Remote, error) {
			client, err := grpcclient.New(endpoint, token)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}

	root := &cobra.Command{
		Use:           "gophsync",
		Short:         "Operate the GophSync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "engine config file (.json or .toml)")
	root.SetOut(opts.Out)

	root.AddCommand(
		c.migrateCommand(),
		c.syncCommand(),
		c.purgeCommand(),
		c.conflictsCommand(),
		c.filesCommand(),
		c.limitsCommand(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	var args []string
	if path != "" {
		args = []string{"-c", path}
	}
	return config.Load(args)
}

func buildEngine(ctx context.Context, path string) (*server.Engine, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	return server.Build(ctx, cfg, logging.New("text", cfg.LogLevel, os.Stderr))
}

// withEngine runs fn over a freshly built engine and closes it afterwards.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *server.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := c.opts.Engine(ctx, c.configPath)
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	defer e.Close()
	return fn(ctx, e)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.opts.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(c.configPath)
			if err != nil {
				return err
			}
			_, closeDB, err := db.Open(context.Background(), cfg.StorageBackend, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer closeDB()
			fmt.Fprintf(c.opts.Out, "Migrations applied (%s)\n", cfg.StorageBackend)
			return nil
		},
	}
}
