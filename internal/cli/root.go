// Package cli defines the messagerie command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "messagerie",
	Short: "Certificate-authenticated message pump",
	Long: `messagerie ingests signed messages from the broker, validates each
signer against the PKI trust chain, and applies the resulting
transactions idempotently to the document store. Reads are served
through a cache-accelerated HTTP API.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
