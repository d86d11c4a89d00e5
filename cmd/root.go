package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "product-patterns",
	Short: "Generate and test product extraction patterns",
	Long:  "Learns per-domain extraction patterns for product pages: fetches a sample page, drafts rules, validates the extracted fields and iterates until the pattern passes or the budget runs out.",
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
