package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and manage the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		failedOnly, _ := cmd.Flags().GetBool("failed")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		var items []*queue.Item
		if failedOnly {
			items, err = a.queue.ListFailed(cmd.Context())
		} else {
			items, err = a.queue.ListAll(cmd.Context())
		}
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println(ui.RenderMuted("queue is empty"))
			return nil
		}

		for _, item := range items {
			status := string(item.Status)
			switch item.Status {
			case queue.StatusPending:
				status = ui.RenderAccent(status)
			case queue.StatusFailed:
				status = ui.RenderFail(status)
			}

			fmt.Printf("%4d  %-8s %-7s %-11s %s  enqueued %s",
				item.ID, status, item.Op, item.EntityKind, item.EntityID,
				item.EnqueuedAt.Local().Format(time.RFC3339))
			if item.RetryCount > 0 {
				fmt.Printf("  retries=%d next=%s", item.RetryCount, item.NextAttemptAt.Local().Format(time.Kitchen))
			}
			if item.LastError != "" {
				fmt.Printf("\n      %s", ui.RenderMuted(item.LastError))
			}
			fmt.Println()
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <item-id>",
	Short: "Reset a failed item for another round of attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.queue.Retry(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s item %d is pending again\n", ui.RenderPass("✓"), id)
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all failed items",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cleared, err := a.queue.ClearFailed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("cleared %s failed items\n", ui.RenderAccent(fmt.Sprintf("%d", cleared)))
		return nil
	},
}

func init() {
	queueListCmd.Flags().Bool("failed", false, "Only show failed items")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
