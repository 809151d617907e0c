package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/migrate"
	"github.com/vetlabs/pawsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "records",
	Short:   "Export pets and medications to a JSONL file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		m := migrate.New(a.pets, a.meds)
		result, err := m.ExportFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s exported %s pets, %s medications to %s\n",
			ui.RenderPass("✓"),
			ui.RenderAccent(fmt.Sprintf("%d", result.Pets)),
			ui.RenderAccent(fmt.Sprintf("%d", result.Medications)),
			args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "records",
	Short:   "Import pets and medications from a JSONL file",
	Long: `Import records exported by 'pawsync export' (or another pawsync
device). Imported records are applied directly to the local database;
they are not queued for sync.

Use --dry-run to validate a file without touching the database.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		m := migrate.New(a.pets, a.meds)
		result, err := m.ImportFile(cmd.Context(), args[0], migrate.ImportOptions{DryRun: dryRun})
		if err != nil {
			return err
		}

		verb := "imported"
		if dryRun {
			verb = "validated"
		}
		fmt.Printf("%s %s %s pets, %s medications\n",
			ui.RenderPass("✓"), verb,
			ui.RenderAccent(fmt.Sprintf("%d", result.Pets)),
			ui.RenderAccent(fmt.Sprintf("%d", result.Medications)))
		if result.Skipped > 0 {
			fmt.Printf("  skipped %d lines of unknown kind\n", result.Skipped)
		}
		for _, msg := range result.Errors {
			fmt.Printf("  %s %s\n", ui.RenderFail("✗"), msg)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("%d lines failed", len(result.Errors))
		}
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
