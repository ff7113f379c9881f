package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func diagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print the diagnostic summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s := snapshotSummary(cfg)
			b, err := s.JSON()
			if err != nil {
				return fmt.Errorf("marshal diagnostic summary: %w", err)
			}
			os.Stdout.Write(b)
			fmt.Println()
			return nil
		},
	}
}
