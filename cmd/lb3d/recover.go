package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/littlebro/lb3/internal/spool"
)

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Repair any segments left mid-write by a prior crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report, err := spool.Recover(cfg.Storage.SpoolDir)
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			fmt.Println(report.String())
			if report.Unrecognized > 0 {
				fmt.Printf("unrecognized=%d (left untouched)\n", report.Unrecognized)
			}
			return nil
		},
	}
}
