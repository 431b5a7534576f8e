// Package cli holds the pageaudit command line.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pageaudit",
	Short: "SEO and accessibility audits for web pages",
	Long: `pageaudit runs the deterministic SEO and accessibility checks against
a page and prints the scored results. The audit service itself is started
with the server binary.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
