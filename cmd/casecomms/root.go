package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/ajramos/casecomms/internal/backend"
	"github.com/ajramos/casecomms/internal/config"
	"github.com/ajramos/casecomms/internal/db"
	"github.com/ajramos/casecomms/internal/services"
	"github.com/ajramos/casecomms/internal/tui"
	"github.com/ajramos/casecomms/pkg/auth"
	"github.com/spf13/cobra"
)

// cli holds state shared by subcommands
type cli struct {
	configPath string
	verbose    bool

	cfg     *config.Config
	logger  *log.Logger
	logFile io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "casecomms",
		Short: "Compose case messages and confirm record deletions",
		Long: `casecomms is a terminal client for a case-management backend.

It composes email and SMS messages with directory-backed recipient lookup,
and deletes records behind a one-time verification code.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.teardown()
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.config/casecomms/config.json, or $CASECOMMS_CONFIG)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr instead of the log file")

	root.AddCommand(
		newComposeCmd(c),
		newDeleteCmd(c),
		newDeletionsCmd(c),
		newSandboxCmd(c),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and opens the logger
func (c *cli) setup() error {
	path := c.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	mgr := config.NewManager()
	if err := mgr.LoadFromFile(path); err != nil {
		return err
	}
	c.cfg = mgr.GetConfig()

	if c.verbose {
		c.logger = log.New(os.Stderr, "[casecomms] ", log.LstdFlags|log.Lmicroseconds)
		return nil
	}
	logger, closer, err := tui.OpenLogger(c.cfg.LogFile)
	if err != nil {
		c.logger = log.New(io.Discard, "", 0)
		return nil
	}
	c.logger, c.logFile = logger, closer
	return nil
}

func (c *cli) teardown() {
	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}
}

// newBackend builds the authenticated API client
func (c *cli) newBackend(ctx context.Context) (*backend.Client, error) {
	oc := auth.NewOAuth2Config(c.cfg.Backend.ClientID, c.cfg.Backend.ClientSecret, c.cfg.Backend.TokenURL, c.cfg.Backend.Scopes...)
	oc.StaticToken = c.cfg.Backend.APIToken
	oc.TokenPath = filepath.Join(config.DefaultCacheDir(), "token.json")
	oc.Timeout = c.cfg.GetBackendTimeout()

	httpClient, err := auth.NewHTTPClient(ctx, oc)
	if err != nil {
		return nil, fmt.Errorf("configure authentication: %w", err)
	}
	client, err := backend.NewClient(c.cfg.Backend.BaseURL, httpClient, c.cfg.Backend.SearchQPS)
	if err != nil {
		return nil, err
	}
	client.SetLogger(c.logger)
	return client, nil
}

// openStore opens the local cache, or returns nil when caching is disabled
func (c *cli) openStore(ctx context.Context) (*db.Store, error) {
	if !c.cfg.Cache.Enabled {
		return nil, nil
	}
	store, err := db.Open(ctx, c.cfg.GetCachePath())
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return store, nil
}

// deletePolicy maps the delete section onto the coordinator policy
func (c *cli) deletePolicy() services.DeletePolicy {
	return services.DeletePolicy{
		OTPLength:   c.cfg.Delete.OTPLength,
		MaxAttempts: c.cfg.Delete.MaxAttempts,
		RequestTTL:  c.cfg.GetRequestTTL(),
	}
}
