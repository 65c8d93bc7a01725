// Package cmd implements the kosmos command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kosmos",
	Short: "KOSMOS - space biology knowledge engine",
	Long: `KOSMOS answers natural-language questions over a corpus of
space biology publications and experiment datasets, returning grounded,
cited answers with extracted biological entities.

Run "kosmos serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
