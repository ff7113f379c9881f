package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a human-readable snapshot of spool usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s := snapshotSummary(cfg)
			fmt.Printf("quota: %s (%d bytes used)\n", s.QuotaState, s.UsedBytes)
			fmt.Printf("dropped_batches=%d evicted_bytes=%d evicted_files=%d\n", s.DroppedBatches, s.EvictedBytes, s.EvictedFiles)
			if len(s.MonitorsFailed) > 0 {
				fmt.Println("monitor failures recorded by the last run are not visible from a standalone status check; see the daemon's log")
			}
			return nil
		},
	}
}
