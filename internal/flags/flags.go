package flags

// Package flags defines canonical CLI flag names for the check command.
// IMPORTANT: These are flag *names* without leading dashes.
//
//	cmd.Flags().StringVar(&opts.branch, flags.FlagBranch, "", "...")
//	arg := "--" + flags.FlagBranch
const (
	// Inputs (each overrides one environment input)
	FlagBranch      = "branch"
	FlagBranchTypes = "branch-types"
	FlagPRTitle     = "pr-title"
	FlagPRNumber    = "pr-number"
	FlagRepository  = "repository"
	FlagJiraURL     = "jira-url"
	FlagEnvFile     = "env-file"

	// Output
	FlagOutput        = "output"
	FlagConsoleFormat = "console-format"

	// Runtime
	FlagTimeout = "timeout"
	FlagVerbose = "verbose"
)
