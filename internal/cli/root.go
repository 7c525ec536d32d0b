package cli

import (
	"fmt"
	"issuegate/internal/failure"
	"issuegate/internal/flags"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "issuegate",
	Short: "Gate a CI run on the Jira issue referenced by its branch",
	Long: `issuegate derives a Jira issue key from a branch name (and optionally a pull
request title), checks that the issue's project is reachable and that the issue
is In Progress, and fails the pipeline otherwise.

Examples:
	# Show available commands and global flags
	issuegate --help

	# Check a branch (credentials from the environment)
	issuegate check --branch feature/PROJ-123

	# Print build info
	issuegate version`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every tracker and GitHub API call)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(failure.ExitFatal)
	}
}
