package config

import (
	"fmt"
	"issuegate/internal/failure"
	"issuegate/internal/issuekey"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment keys read by FromEnv. The INPUT_ prefix is how a GitHub
// Action receives its inputs.
const (
	EnvBranch       = "INPUT_BRANCH_TO_CHECK"
	EnvBranchTypes  = "INPUT_VALID_BRANCH_NAMES"
	EnvJiraUsername = "INPUT_JIRA_USERNAME"
	EnvJiraPassword = "INPUT_JIRA_PASSWORD"
	EnvPRTitle      = "INPUT_PR_TITLE"
	EnvPRNumber     = "INPUT_PR_NUMBER"
	EnvJiraURL      = "INPUT_JIRA_URL"
	EnvRepository   = "GITHUB_REPOSITORY"
	EnvGitHubToken  = "GITHUB_TOKEN"
	EnvOutputFile   = "GITHUB_OUTPUT"
	EnvSentryDSN    = "SENTRY_DSN"
)

const (
	DefaultJiraURL = "https://ovearup.atlassian.net"
	DefaultTimeout = 10 * time.Second
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove environment inputs, keep the
	// flag overrides in internal/cli/check.go in sync.
	Inputs  Inputs
	Tracker Tracker
	GitHub  GitHub
	Output  Output
	Runtime Runtime
}

type Inputs struct {
	// Branch is the branch reference to check, with or without refs/heads/.
	Branch string

	// BranchTypes is the "|"-delimited allow-list of branch types.
	BranchTypes string

	// PRTitle is the pull request title, or issuekey.NoTitle to skip the
	// title check. It is kept verbatim (never trimmed).
	PRTitle string

	// PRNumber, when > 0 and PRTitle is not given, selects a pull request
	// whose title is fetched from GitHub.
	PRNumber int
}

type Tracker struct {
	// BaseURL is the tracker root, without a trailing slash.
	BaseURL  string
	Username string
	Password string

	// Timeout bounds each tracker request. Must be > 0.
	Timeout time.Duration
}

type GitHub struct {
	// Repository is OWNER/REPO, as set by GitHub Actions.
	Repository string
	Token      string
}

type Output struct {
	// File receives key=value output lines (GitHub's $GITHUB_OUTPUT). Empty
	// means outputs are only printed.
	File string

	// ConsoleFormat is text or ndjson.
	ConsoleFormat string
}

type Runtime struct {
	Verbose bool
}

func New() *Config {
	return &Config{
		Inputs: Inputs{
			BranchTypes: issuekey.DefaultBranchTypes,
			PRTitle:     issuekey.NoTitle,
		},
		Tracker: Tracker{
			BaseURL: DefaultJiraURL,
			Timeout: DefaultTimeout,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
	}
}

// FromEnv builds a validated Config from an environment snapshot. It reads
// nothing but env, so callers decide where the snapshot comes from.
func FromEnv(env map[string]string) (*Config, error) {
	c := New()

	// Required inputs, checked in a fixed order.
	for _, req := range []struct {
		key string
		dst *string
	}{
		{EnvBranch, &c.Inputs.Branch},
		{EnvJiraUsername, &c.Tracker.Username},
		{EnvJiraPassword, &c.Tracker.Password},
	} {
		v := strings.TrimSpace(env[req.key])
		if v == "" {
			return nil, &failure.ConfigError{Key: req.key}
		}
		*req.dst = v
	}

	if v, ok := env[EnvBranchTypes]; ok {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, &failure.ConfigError{Key: EnvBranchTypes, Reason: "must not be blank when set"}
		}
		c.Inputs.BranchTypes = v
	}
	if _, err := issuekey.CompileBranchPattern(c.Inputs.BranchTypes); err != nil {
		return nil, &failure.ConfigError{Key: EnvBranchTypes, Reason: err.Error()}
	}

	if v := env[EnvPRTitle]; strings.TrimSpace(v) != "" {
		c.Inputs.PRTitle = v
	}

	if v := strings.TrimSpace(env[EnvPRNumber]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &failure.ConfigError{Key: EnvPRNumber, Reason: fmt.Sprintf("%q is not a positive integer", v)}
		}
		c.Inputs.PRNumber = n
	}

	if v := strings.TrimSpace(env[EnvJiraURL]); v != "" {
		base, err := normalizeBaseURL(v)
		if err != nil {
			return nil, &failure.ConfigError{Key: EnvJiraURL, Reason: err.Error()}
		}
		c.Tracker.BaseURL = base
	}

	c.GitHub.Repository = strings.TrimSpace(env[EnvRepository])
	c.GitHub.Token = strings.TrimSpace(env[EnvGitHubToken])
	if c.TitleFromGitHub() {
		if c.GitHub.Repository == "" {
			return nil, &failure.ConfigError{Key: EnvRepository, Reason: "required to look up the title of pull request " + strconv.Itoa(c.Inputs.PRNumber)}
		}
		if _, _, err := SplitRepository(c.GitHub.Repository); err != nil {
			return nil, &failure.ConfigError{Key: EnvRepository, Reason: err.Error()}
		}
	}

	c.Output.File = strings.TrimSpace(env[EnvOutputFile])

	return c, nil
}

// TitleFromGitHub reports whether the pull request title must be fetched
// rather than taken from the inputs.
func (c *Config) TitleFromGitHub() bool {
	return c.Inputs.PRTitle == issuekey.NoTitle && c.Inputs.PRNumber > 0
}

// Validate checks the fields that come from flags rather than the environment.
func (c *Config) Validate() error {
	if c.Tracker.Timeout <= 0 {
		return &failure.ConfigError{Key: "--timeout", Reason: "must be > 0"}
	}
	c.Output.ConsoleFormat = strings.ToLower(strings.TrimSpace(c.Output.ConsoleFormat))
	if c.Output.ConsoleFormat == "" {
		c.Output.ConsoleFormat = "text"
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "ndjson" {
		return &failure.ConfigError{Key: "--console-format", Reason: fmt.Sprintf("unsupported value %q (must be one of: text, ndjson)", c.Output.ConsoleFormat)}
	}
	return nil
}

// SplitRepository splits OWNER/REPO.
func SplitRepository(raw string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("%q is not OWNER/REPO", raw)
	}
	return owner, repo, nil
}

func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%q is not a URL", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q has no host", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Merge layers environment maps; later layers win.
func Merge(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
