package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

var Version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "bridgectl",
		Short:   "bridgectl - donor and operator CLI for eidos-bridge",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(&logger.Config{
				Level:       logLevel,
				Format:      "console",
				ServiceName: "bridgectl",
				Stderr:      true,
			})
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(donateCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(mintCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

func dialChain(ctx context.Context, cfg *config.Config) (*blockchain.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return blockchain.NewClient(ctx, &blockchain.ClientConfig{
		RPCURLs:       cfg.Blockchain.RPCURLs(),
		MaxRetries:    2,
		RetryInterval: 500 * time.Millisecond,
	})
}
