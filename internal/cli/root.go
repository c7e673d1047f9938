// Package cli implements the resilientd command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	adminURL string
	apiKey   string
)

var rootCmd = &cobra.Command{
	Use:   "resilientd",
	Short: "Offline-first relay to an upstream HTTP API",
	Long: `resilientd relays requests to an upstream API. Requests made while the
upstream is unreachable are queued by priority and replayed on reconnect.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfig, "config file")
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin-url", "", "admin API base URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("RESILIENT_API_KEY"), "admin API key")
}
