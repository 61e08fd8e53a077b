package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ajramos/casecomms/internal/sandbox"
	"github.com/spf13/cobra"
)

func newSandboxCmd(c *cli) *cobra.Command {
	var (
		addr   string
		apiKey string
		noSeed bool
	)

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run an in-memory backend for local development",
		Long: `Run an in-memory implementation of the case-management API.

Verification codes for delete requests are printed to stderr instead of
being delivered, so the full delete flow can be exercised locally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.Sandbox.Addr
			}
			logger := log.New(os.Stderr, "[sandbox] ", log.LstdFlags)

			srv := sandbox.NewServer(sandbox.Options{
				APIKey:     apiKey,
				OTPLength:  c.cfg.Delete.OTPLength,
				RequestTTL: c.cfg.GetRequestTTL(),
				Seed:       c.cfg.Sandbox.SeedContacts && !noSeed,
				Logger:     logger,
			})

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err, ok := <-errCh:
				if ok {
					return err
				}
				return nil
			case <-cmd.Context().Done():
				logger.Printf("shutting down")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "require this bearer token on API calls")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "start without demo contacts and records")
	return cmd
}
