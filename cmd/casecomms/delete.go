package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ajramos/casecomms/internal/db"
	"github.com/ajramos/casecomms/internal/render"
	"github.com/ajramos/casecomms/internal/services"
	"github.com/ajramos/casecomms/internal/tui"
	"github.com/spf13/cobra"
)

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <target-id>",
		Short: "Delete a record after confirming a one-time code",
		Long: `Request deletion of a record. The backend sends a one-time code
out of band; the record is only deleted once the code is confirmed.

Incorrect codes can be retried a limited number of times, and the request
lapses after the configured TTL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			targetID := args[0]

			client, err := c.newBackend(ctx)
			if err != nil {
				return err
			}

			coord := services.NewDeleteRequestCoordinator(client, c.deletePolicy())
			coord.SetLogger(c.logger)
			store, err := c.openStore(ctx)
			if err != nil {
				c.logger.Printf("delete: ledger disabled: %v", err)
			}
			if store != nil {
				defer store.Close()
				coord.SetLedger(db.NewDeleteRequestStore(store))
			}

			ctrl := services.NewDeleteConfirmationController(coord)
			ctrl.SetLogger(c.logger)
			ctrl.OnConfirmed(func(id string) {
				c.logger.Printf("delete: %s confirmed", id)
			})

			app := tui.NewApp(ctx, tui.Options{Logger: c.logger})
			app.ShowDelete(ctrl, targetID)
			return app.Run()
		},
	}
}

func newDeletionsCmd(c *cli) *cobra.Command {
	var (
		status string
		limit  int
		expire bool
	)

	cmd := &cobra.Command{
		Use:   "deletions",
		Short: "List delete requests recorded in the local ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st := services.DeleteStatus(status)
			switch st {
			case "", services.DeleteStatusPending, services.DeleteStatusConfirmed, services.DeleteStatusRejected,
				services.DeleteStatusAbandoned, services.DeleteStatusExpired:
			default:
				return fmt.Errorf("unknown status %q", status)
			}

			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("the local cache is disabled; enable cache.enabled to keep a ledger")
			}
			defer store.Close()
			ledger := db.NewDeleteRequestStore(store)

			if expire {
				n, err := ledger.ExpirePending(ctx, time.Now().Add(-c.cfg.GetRequestTTL()))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d stale request(s).\n", n)
			}
			return printDeletions(ctx, cmd.OutOrStdout(), ledger, st, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only show requests with this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of requests to show")
	cmd.Flags().BoolVar(&expire, "expire", false, "mark pending requests older than the TTL as expired first")
	return cmd
}

func printDeletions(ctx context.Context, w io.Writer, ledger *db.DeleteRequestStore, status services.DeleteStatus, limit int) error {
	reqs, err := ledger.ListDeleteRequests(ctx, status, limit)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Fprintln(w, "No delete requests found.")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-12s  %-10s  %8s  %s\n", "Request", "Target", "Status", "Attempts", "Updated")
	fmt.Fprintf(w, "%-36s  %-12s  %-10s  %8s  %s\n", "-------", "------", "------", "--------", "-------")
	for _, r := range reqs {
		fmt.Fprintf(w, "%s  %s  %-10s  %8d  %s\n",
			render.FitWidth(r.RequestID, 36), render.FitWidth(r.TargetID, 12), r.Status, r.Attempts,
			r.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
