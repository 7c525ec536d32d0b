package cli

import (
	"context"
	"fmt"
	"io"
	"issuegate/internal/config"
	"issuegate/internal/engine"
	"issuegate/internal/failure"
	"issuegate/internal/flags"
	gh "issuegate/internal/github"
	"issuegate/internal/jira"
	"issuegate/internal/logging"
	"issuegate/internal/output"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type checkOptions struct {
	branch        string
	branchTypes   string
	prTitle       string
	prNumber      int
	repository    string
	jiraURL       string
	envFile       string
	output        string
	consoleFormat string
	timeout       time.Duration
}

var checkOpts checkOptions

const checkLong = `Check that the branch (and optional pull request title) reference a Jira
issue that is In Progress.

Inputs are read from the environment the way a GitHub Action receives them.
A flag, when given, overrides the matching variable:

	INPUT_BRANCH_TO_CHECK     --branch        (required)
	INPUT_VALID_BRANCH_NAMES  --branch-types  (default: task|test|bugfix|feature|hotfix|epic)
	INPUT_PR_TITLE            --pr-title      (default: none, title check skipped)
	INPUT_PR_NUMBER           --pr-number     (fetch the title from GitHub when no title is given)
	GITHUB_REPOSITORY         --repository    (OWNER/REPO, used with --pr-number)
	INPUT_JIRA_URL            --jira-url      (default: https://ovearup.atlassian.net)
	GITHUB_OUTPUT             --output        (file receiving the outputs)
	INPUT_JIRA_USERNAME       (required)
	INPUT_JIRA_PASSWORD       (required, API token)
	GITHUB_TOKEN              (optional; falls back to 'gh auth token')
	SENTRY_DSN                (optional; forwards errors to Sentry)

Variables may also come from a dotenv file (--env-file); the environment wins.

Branch types are split on "|" and each type is trimmed, so "feature | hotfix"
allows feature/ and hotfix/. Types match literally ("fix.it" is not a pattern)
and an empty type is an error.

Output:
	One result line per step (config, branch-format, title-consistency,
	project-access, issue-status). With --console-format ndjson each line is a
	JSON event ("step.result", "run.outputs", "run.finished").
	On success the outputs issue_key, status_category and project_key are
	appended to the output file. On failure a single "::error::" annotation
	is printed to stderr and nothing is written.

Exit codes:
	0 = gate passed
	1 = gate refused (branch/title format, key mismatch, issue not in progress)
	2 = tracker failure (access rejected, unexpected response)
	3 = fatal error (missing or invalid configuration)

Examples:
	INPUT_JIRA_USERNAME=me@example.com INPUT_JIRA_PASSWORD=token \
		issuegate check --branch refs/heads/feature/PROJ-123 --pr-title "PROJ-123 | Fix login"
`

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the branch against its Jira issue",
	Long:  checkLong,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCheck(cmd.Context(), cmd, checkOpts, os.Stdout, os.Stderr))
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	bindCheckFlags(checkCmd, &checkOpts)
}

// MAINTAINER NOTE: input flags map onto environment keys in envOverrides;
// keep both in sync.
func bindCheckFlags(cmd *cobra.Command, opts *checkOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.branch, flags.FlagBranch, "", "Branch to check, with or without refs/heads/")
	f.StringVar(&opts.branchTypes, flags.FlagBranchTypes, "", "Allowed branch types, '|'-delimited")
	f.StringVar(&opts.prTitle, flags.FlagPRTitle, "", "Pull request title to cross-check")
	f.IntVar(&opts.prNumber, flags.FlagPRNumber, 0, "Pull request number whose title is fetched from GitHub")
	f.StringVar(&opts.repository, flags.FlagRepository, "", "Repository as OWNER/REPO")
	f.StringVar(&opts.jiraURL, flags.FlagJiraURL, "", "Jira base URL")
	f.StringVar(&opts.envFile, flags.FlagEnvFile, ".env", "Dotenv file to read inputs from (missing file is ignored)")
	f.StringVar(&opts.output, flags.FlagOutput, "", "File receiving key=value outputs (default: $GITHUB_OUTPUT)")
	f.StringVar(&opts.consoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text|ndjson")
	f.DurationVar(&opts.timeout, flags.FlagTimeout, config.DefaultTimeout, "Timeout for each tracker request")
}

// envOverrides returns the environment entries set by explicitly given flags.
func envOverrides(cmd *cobra.Command, opts checkOptions) map[string]string {
	out := make(map[string]string)
	changed := func(name string) bool {
		return cmd != nil && cmd.Flags().Changed(name)
	}
	for _, o := range []struct {
		flag, key, value string
	}{
		{flags.FlagBranch, config.EnvBranch, opts.branch},
		{flags.FlagBranchTypes, config.EnvBranchTypes, opts.branchTypes},
		{flags.FlagPRTitle, config.EnvPRTitle, opts.prTitle},
		{flags.FlagPRNumber, config.EnvPRNumber, strconv.Itoa(opts.prNumber)},
		{flags.FlagRepository, config.EnvRepository, opts.repository},
		{flags.FlagJiraURL, config.EnvJiraURL, opts.jiraURL},
		{flags.FlagOutput, config.EnvOutputFile, opts.output},
	} {
		if changed(o.flag) {
			out[o.key] = o.value
		}
	}
	return out
}

// runCheck runs one gate pass and returns the process exit code.
func runCheck(ctx context.Context, cmd *cobra.Command, opts checkOptions, stdout, stderr io.Writer) int {
	if ctx == nil {
		ctx = context.Background()
	}

	dotenv, dotenvErr := config.LoadDotEnv(opts.envFile)
	env := config.Merge(dotenv, config.Environ(), envOverrides(cmd, opts))

	logger, err := logging.New(logging.Config{
		Level:     logging.LevelFor(verbose),
		SentryDSN: strings.TrimSpace(env[config.EnvSentryDSN]),
		Version:   buildVersion,
		Output:    stderr,
	})
	if err != nil {
		// Sentry is optional; keep going with local logs only.
		fmt.Fprintf(stderr, "warning: %v\n", err)
		logger, _ = logging.New(logging.Config{Level: logging.LevelFor(verbose), Output: stderr})
	}
	defer logger.Flush(2 * time.Second)

	format := strings.ToLower(strings.TrimSpace(opts.consoleFormat))
	if format != "ndjson" {
		format = "text"
	}
	mgr, err := output.NewManager(output.NewConsoleSink(stdout, format))
	if err != nil {
		_ = output.WriteAnnotation(stderr, err)
		return failure.ExitFatal
	}

	eng, err := engine.New(mgr, logger.Logger, newClients(logger.Logger))
	if err != nil {
		_ = output.WriteAnnotation(stderr, err)
		return failure.ExitFatal
	}

	load := func() (*config.Config, error) {
		if dotenvErr != nil {
			return nil, &failure.ConfigError{Key: "--" + flags.FlagEnvFile, Reason: dotenvErr.Error()}
		}
		cfg, err := config.FromEnv(env)
		if err != nil {
			return nil, err
		}
		cfg.Tracker.Timeout = opts.timeout
		cfg.Output.ConsoleFormat = opts.consoleFormat
		cfg.Runtime.Verbose = verbose
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	_, runErr := eng.Run(ctx, load)
	code := failure.ExitCode(runErr)
	if runErr != nil {
		_ = output.WriteAnnotation(stderr, runErr)
	}
	if err := mgr.Finish(code); err != nil {
		logger.Warn("closing output", "error", err)
	}
	return code
}

func newClients(logger *slog.Logger) engine.Clients {
	return func(ctx context.Context, cfg *config.Config) (engine.Tracker, engine.TitleSource, error) {
		tracker, err := jira.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Username, cfg.Tracker.Password,
			jira.WithTimeout(cfg.Tracker.Timeout),
			jira.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, &failure.ConfigError{Key: config.EnvJiraURL, Reason: err.Error()}
		}
		if !cfg.TitleFromGitHub() {
			return tracker, nil, nil
		}

		token, source, err := gh.ResolveAuthToken(ctx, cfg.GitHub.Token)
		if err != nil {
			return nil, nil, &failure.ConfigError{Key: config.EnvGitHubToken, Reason: fmt.Sprintf("resolving GitHub token: %v", err)}
		}
		if token == "" {
			logger.Debug("no GitHub token; reading the pull request anonymously")
		} else {
			logger.Debug("GitHub token resolved", "source", string(source))
		}
		titles, err := gh.NewClient(ctx, token, gh.WithLogger(logger), gh.WithTimeout(cfg.Tracker.Timeout))
		if err != nil {
			return nil, nil, fmt.Errorf("create GitHub client: %w", err)
		}
		return tracker, titles, nil
	}
}
