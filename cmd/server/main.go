package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "depmon",
	Short: "Cross-service dependency monitor with cascade prevention and automated rollback",
	Long: `depmon watches the health of declared service dependencies, trips
circuit breakers on failing edges, scores cascade risk, and restores
services from rollback-safe snapshots when health degrades.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
