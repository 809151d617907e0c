package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/engine"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Drain the pending sync queue against the remote records service.

Each queued mutation is replayed in order; server responses replace the
local copies. Items that fail with a retriable error are rescheduled
with backoff and picked up by a later cycle.

Example usage:
  pawsync sync              # Sync everything that is due
  pawsync sync --quiet      # Only print the summary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if a.watcher != nil {
			if err := a.watcher.Start(); err != nil {
				return err
			}
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		opts := engine.Options{}
		if !quiet {
			opts.OnItemSync = func(item *queue.Item, err error) {
				label := fmt.Sprintf("%s %s %s", item.Op, item.EntityKind, item.EntityID)
				if err != nil {
					fmt.Printf("  %s %s: %v\n", ui.RenderFail("✗"), label, err)
				} else {
					fmt.Printf("  %s %s\n", ui.RenderPass("✓"), label)
				}
			}
		}

		result := a.manager.Sync(ctx, opts)
		printResult(result)
		if !result.Success {
			return fmt.Errorf("sync incomplete")
		}
		return nil
	},
}

func printResult(result *engine.Result) {
	if result.Message != "" {
		fmt.Println(ui.RenderWarn(result.Message))
		return
	}
	if result.Success {
		fmt.Printf("%s synced %s items\n", ui.RenderPass("Done:"), ui.RenderAccent(fmt.Sprintf("%d", result.SyncedCount)))
		return
	}
	fmt.Printf("%s %d synced, %d failed\n", ui.RenderFail("Incomplete:"), result.SyncedCount, result.FailedCount)
	for _, itemErr := range result.Errors {
		fmt.Printf("  %s item %d (%s): %s\n", ui.RenderFail("✗"), itemErr.ItemID, itemErr.EntityID, itemErr.Message)
	}
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local database and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		pending, err := a.queue.CountPending(ctx)
		if err != nil {
			return err
		}
		failed, err := a.queue.CountFailed(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s  %s\n", ui.RenderBold("Connectivity:"), ui.StatusBadge(a.monitor.Online()))
		fmt.Printf("%s      %s\n", ui.RenderBold("Database:"), ui.RenderMuted(a.cfg.DBPath))
		fmt.Printf("%s %s pending, %s failed\n", ui.RenderBold("Sync queue:"),
			ui.RenderAccent(fmt.Sprintf("%d", pending)),
			ui.RenderAccent(fmt.Sprintf("%d", failed)))

		if failed > 0 {
			fmt.Println(ui.RenderWarn("Failed items need attention: see 'pawsync queue list' and 'pawsync queue retry'"))
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("quiet", false, "Only print the summary")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
