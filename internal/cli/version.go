package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		version, commit, date := BuildInfo()
		name := color.New(color.Bold).Sprint("issuegate")
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\ncommit: %s\nbuilt:  %s\n", name, version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
