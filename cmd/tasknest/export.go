package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest/internal/blob"
	"github.com/tasknest/tasknest/internal/snapshot"
	"github.com/tasknest/tasknest/internal/ui"
)

var (
	exportUser string
	exportAll  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export snapshot backups from the command line",
	Long: `Run the snapshot exporter directly against the configured backend,
without going through the HTTP API. Useful for cron jobs and one-off
operational exports.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !exportAll && exportUser == "" {
			return fmt.Errorf("either --user or --all is required")
		}

		db, closeDB, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		store, err := blob.OpenFS(cfg.BlobDir)
		if err != nil {
			return fmt.Errorf("failed to open blob storage: %w", err)
		}

		exporter := snapshot.NewExporter(db, store, newLogger(cfg, "[export] "))
		ctx := context.Background()
		start := time.Now()

		if exportAll {
			reports, err := exporter.ExportAll(ctx)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range reports {
				if r.Success {
					fmt.Printf("%s %s\n", ui.RenderPass("✓"), r.UserID)
				} else {
					fmt.Printf("%s %s: %s\n", ui.RenderFail("✗"), r.UserID, r.Error)
					failed++
				}
			}
			fmt.Printf("\n%s Exported %d/%d users in %v\n", ui.RenderAccent("📦"),
				len(reports)-failed, len(reports), time.Since(start).Round(time.Millisecond))
			if failed > 0 {
				return fmt.Errorf("%d of %d exports failed", failed, len(reports))
			}
			return nil
		}

		result, err := exporter.Export(ctx, exportUser)
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d records across %d/%d tables in %v\n", ui.RenderPass("✓"),
			result.TotalRecords, result.TablesExported, result.TablesAttempted,
			time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportUser, "user", "", "export a single user")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every known user")
	rootCmd.AddCommand(exportCmd)
}
