package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/loadtest"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure store and queue latency under load",
	Long: `Populate a throwaway database with synthetic pets, medications, and
queue items, then measure read and enqueue latency.

Example usage:
  pawsync loadtest
  pawsync loadtest --pets 5000 --items 2000 --readers 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		numPets, _ := cmd.Flags().GetInt("pets")
		medsPerPet, _ := cmd.Flags().GetInt("meds-per-pet")
		numItems, _ := cmd.Flags().GetInt("items")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")

		dir, err := os.MkdirTemp("", "pawsync-loadtest-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		fmt.Printf("populating %d pets (%d meds each), %d queue items...\n", numPets, medsPerPet, numItems)
		ts, err := loadtest.Populate(filepath.Join(dir, "load.db"), 10, numPets, medsPerPet, numItems)
		if err != nil {
			return err
		}
		defer ts.Close()

		fmt.Printf("\nconcurrent reads (%d readers x %d query pairs):\n", readers, queries)
		readStats, err := ts.RunConcurrentReads(readers, queries)
		if err != nil {
			return err
		}
		readStats.PrintStats()

		fmt.Printf("\nsequential enqueues (on top of %d existing items):\n", ts.TotalItems)
		enqueueStats, err := ts.MeasureEnqueue(queries)
		if err != nil {
			return err
		}
		enqueueStats.PrintStats()
		return nil
	},
}

func init() {
	loadtestCmd.Flags().Int("pets", 1000, "Number of pets to create")
	loadtestCmd.Flags().Int("meds-per-pet", 3, "Medications per pet")
	loadtestCmd.Flags().Int("items", 500, "Pending queue items to create")
	loadtestCmd.Flags().Int("readers", 20, "Concurrent readers")
	loadtestCmd.Flags().Int("queries", 100, "Queries per reader")

	rootCmd.AddCommand(loadtestCmd)
}
