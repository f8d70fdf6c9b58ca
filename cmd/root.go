// Package cmd implements the opsdesk command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "opsdesk",
	Short: "opsdesk - intent-routed helpdesk chat backend",
	Long: `opsdesk serves a streaming helpdesk chat API. Each request is
classified by intent and routed either to a tool-calling conversation
(ticket creation and status) or to a retrieval-grounded answer path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
