package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "catalogsync",
	Short: "Catalog search-state sync and speculative caching engine",
	Long:  "Keeps catalog search state in sync with the address bar and preference tiers, caches catalog requests by fingerprint, prefetches the next page and polls compiling goals.",
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
