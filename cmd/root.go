package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackbirds/invoiceguard/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "invoiceguard",
	Short: "Supervised invoice price verification",
	Long:  "Checks extracted invoices against per-vendor price history, flags anomalies for human review, and learns prices only from invoices a human approved.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
