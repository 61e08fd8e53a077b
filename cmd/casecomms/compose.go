package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajramos/casecomms/internal/db"
	"github.com/ajramos/casecomms/internal/debounce"
	"github.com/ajramos/casecomms/internal/services"
	"github.com/ajramos/casecomms/internal/tui"
	"github.com/spf13/cobra"
)

func newComposeCmd(c *cli) *cobra.Command {
	var (
		conversationID string
		channel        string
	)

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose an email or SMS for a conversation",
		Long: `Open the compose dialog for a conversation.

Recipient fields suggest the conversation's contacts while empty and search
the directory as you type. Enter toggles the highlighted suggestion,
Ctrl+T cycles message templates and Ctrl+J sends.`,
		Example: `  casecomms compose --conversation conv-1
  casecomms compose --conversation conv-2 --channel sms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := c.resolveChannel(channel)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			client, err := c.newBackend(ctx)
			if err != nil {
				return err
			}

			var directory services.ContactDirectoryProvider = client
			store, err := c.openStore(ctx)
			if err != nil {
				c.logger.Printf("compose: cache disabled: %v", err)
			}
			if store != nil {
				defer store.Close()
				dirStore := db.NewDirectoryStore(store)
				c.purgeDirectoryCache(ctx, dirStore, time.Now())
				cached := services.NewCachedDirectory(client, dirStore, c.cfg.GetDirectoryTTL())
				cached.SetLogger(c.logger)
				directory = cached
			}

			resolver := services.NewRecipientResolver(directory, client, ch, conversationID)
			resolver.SetLogger(c.logger)
			resolver.SetDebounce(c.cfg.GetDebounceDelay(), debounce.New)

			ctrl, err := services.NewComposeController(ch, client, resolver)
			if err != nil {
				return err
			}
			ctrl.SetLogger(c.logger)
			ctrl.OnSent(func() {
				c.logger.Printf("compose: message sent for conversation %s via %s", conversationID, ch)
			})

			templates := c.loadTemplates(ch)

			app := tui.NewApp(ctx, tui.Options{Logger: c.logger})
			app.ShowCompose(ctrl, templates)
			return app.Run()
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation whose contacts are suggested (required)")
	cmd.Flags().StringVar(&channel, "channel", "", "email or sms (default from config)")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

// resolveChannel validates the flag value, falling back to the configured default
func (c *cli) resolveChannel(flag string) (services.Channel, error) {
	value := strings.ToLower(strings.TrimSpace(flag))
	if value == "" {
		value = c.cfg.Compose.DefaultChannel
	}
	ch := services.Channel(value)
	if !ch.Valid() {
		return "", fmt.Errorf("%w: %q (want email or sms)", services.ErrInvalidChannel, flag)
	}
	return ch, nil
}

// loadTemplates lists the channel's templates; a broken directory only costs the templates
func (c *cli) loadTemplates(ch services.Channel) []services.MessageTemplate {
	svc := services.NewTemplateService(c.cfg.GetTemplatesDir())
	svc.SetLogger(c.logger)
	templates, err := svc.ListTemplates(ch)
	if err != nil {
		c.logger.Printf("compose: templates unavailable: %v", err)
		return nil
	}
	return templates
}

// directoryRetention bounds how long cached defaults are kept as a stale fallback
const directoryRetention = 7 * 24 * time.Hour

// purgeDirectoryCache drops cached defaults older than directoryRetention
func (c *cli) purgeDirectoryCache(ctx context.Context, store *db.DirectoryStore, now time.Time) {
	n, err := store.PurgeDirectory(ctx, now.Add(-directoryRetention).Unix())
	if err != nil {
		c.logger.Printf("compose: failed to purge directory cache: %v", err)
		return
	}
	if n > 0 {
		c.logger.Printf("compose: purged %d stale directory cache entries", n)
	}
}
