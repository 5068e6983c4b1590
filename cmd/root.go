package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "momo-payments",
	Short: "Mobile-money payments service",
	Long:  "Mobile-money payment reconciliation: initiation, webhook and poll ingestion, order projection, and real-time status fanout.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
