package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest/internal/blob"
	"github.com/tasknest/tasknest/internal/replica"
	"github.com/tasknest/tasknest/internal/snapshot"
	"github.com/tasknest/tasknest/internal/ui"
)

var statusUser string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show snapshot and replica queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("\n%s TaskNest Status\n\n", ui.RenderAccent("📊"))

		if q, err := replica.Open(cfg.ReplicaPath); err == nil {
			pending, perr := q.Pending(context.Background())
			q.Close()
			if perr == nil {
				marker := ui.RenderPass("✓")
				if pending > 0 {
					marker = ui.RenderWarn("⚠")
				}
				fmt.Printf("%s Replica queue: %d pending transactions\n", marker, pending)
			}
			fmt.Printf("   %s\n", ui.RenderDim(cfg.ReplicaPath))
		} else {
			fmt.Printf("%s Replica not initialized at %s\n", ui.RenderWarn("⚠"), cfg.ReplicaPath)
		}

		if statusUser == "" {
			fmt.Println()
			return nil
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

		exporter := snapshot.NewExporter(db, store, newLogger(cfg, "[status] "))
		exists, createdAt, records, err := exporter.Status(context.Background(), statusUser)
		if err != nil {
			return err
		}
		if !exists {
			fmt.Printf("%s No snapshot for user %s\n\n", ui.RenderWarn("⚠"), statusUser)
			return nil
		}
		fmt.Printf("%s Snapshot for %s: %d records, created %s\n\n", ui.RenderPass("✓"),
			statusUser, records, createdAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusUser, "user", "", "also show snapshot status for this user")
	rootCmd.AddCommand(statusCmd)
}
