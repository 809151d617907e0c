package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/store"
	"github.com/vetlabs/pawsync/internal/ui"
)

var drugCmd = &cobra.Command{
	Use:     "drug",
	GroupID: "records",
	Short:   "Look up drug safety information",
}

var drugSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the drug safety database",
	Long: `Search the remote drug safety database. Results are cached locally
(search_cache_ttl, default 24h) so recent lookups keep working offline.

Example usage:
  pawsync drug search "carprofen dog"
  pawsync drug search carprofen --refresh`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		query := args[0]

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if !refresh {
			entry, err := a.searches.Get(cmd.Context(), query)
			if err == nil {
				fmt.Printf("%s (cached %s)\n", ui.RenderMuted("from cache"), entry.CachedAt.Local().Format("15:04"))
				fmt.Println(string(entry.Payload))
				return nil
			}
			if !store.IsNotFound(err) {
				return err
			}
		}

		if !a.monitor.Online() {
			return fmt.Errorf("no cached result for %q and device is offline", query)
		}

		payload, err := a.client.SearchDrugs(cmd.Context(), query)
		if err != nil {
			return err
		}
		if err := a.searches.Put(cmd.Context(), query, payload, a.cfg.SearchCacheTTL); err != nil {
			return fmt.Errorf("search succeeded but caching failed: %w", err)
		}

		fmt.Println(string(payload))
		return nil
	},
}

var drugPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Evict expired search cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		evicted, err := a.searches.Purge(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("evicted %s expired entries\n", ui.RenderAccent(fmt.Sprintf("%d", evicted)))
		return nil
	},
}

func init() {
	drugSearchCmd.Flags().Bool("refresh", false, "Bypass the cache and query the server")

	drugCmd.AddCommand(drugSearchCmd, drugPurgeCmd)
	rootCmd.AddCommand(drugCmd)
}
