// Package engine runs one gate pass: the checks in order, one result per step,
// and the run outputs once every check has passed.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"issuegate/internal/config"
	"issuegate/internal/failure"
	"issuegate/internal/gate"
	"issuegate/internal/issuekey"
	"issuegate/internal/jira"
	"issuegate/internal/output"
	"log/slog"
)

// Output names, as exposed to the workflow.
const (
	OutputIssueKey       = "issue_key"
	OutputStatusCategory = "status_category"
	OutputProjectKey     = "project_key"
)

// Tracker is the issue tracker collaborator. *jira.Client satisfies it.
type Tracker interface {
	Project(ctx context.Context, projectKey string) (*jira.Project, error)
	Issue(ctx context.Context, key issuekey.Key) (gate.Record, error)
}

// TitleSource looks up a pull request title. *github.Client satisfies it.
type TitleSource interface {
	PullRequestTitle(ctx context.Context, owner, repo string, number int) (string, error)
}

// Loader produces the validated configuration for the run.
type Loader func() (*config.Config, error)

// Clients builds the collaborators once the configuration is known. titles
// is only used when the config asks for the title to be fetched.
type Clients func(ctx context.Context, cfg *config.Config) (tracker Tracker, titles TitleSource, err error)

type Engine struct {
	out     *output.Manager
	log     *slog.Logger
	clients Clients
}

func New(out *output.Manager, log *slog.Logger, clients Clients) (*Engine, error) {
	if out == nil {
		return nil, fmt.Errorf("engine: output manager is nil")
	}
	if clients == nil {
		return nil, fmt.Errorf("engine: clients factory is nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{out: out, log: log, clients: clients}, nil
}

// Run executes the checks in order and stops at the first failure. Outputs
// are published (and returned) only when every check passed. The returned
// error is the failure to report; failure.ExitCode maps it to an exit code.
func (e *Engine) Run(ctx context.Context, load Loader) (output.Outputs, error) {
	cfg, err := load()
	if err != nil {
		return nil, e.fail(output.StepConfig, err)
	}
	// The output file is written ahead of the console sinks, so it is kept
	// out of the manager.
	var outFile *output.GitHubOutputSink
	if cfg.Output.File != "" {
		outFile, err = output.NewGitHubOutputSink(cfg.Output.File)
		if err != nil {
			return nil, e.fail(output.StepConfig, &failure.ConfigError{Key: config.EnvOutputFile, Reason: err.Error()})
		}
	}
	tracker, titles, err := e.clients(ctx, cfg)
	if err != nil {
		return nil, e.fail(output.StepConfig, err)
	}
	e.pass(output.StepConfig, "")

	key, err := checkBranch(cfg.Inputs)
	if err != nil {
		return nil, e.fail(output.StepBranchFormat, err)
	}
	e.pass(output.StepBranchFormat, key.String())

	title, err := e.resolveTitle(ctx, cfg, titles)
	if err != nil {
		return nil, e.fail(output.StepTitleConsistency, err)
	}
	if title == issuekey.NoTitle {
		e.report(output.Result{Step: output.StepTitleConsistency, Status: output.StatusSkip, Message: "no pull request title"})
	} else {
		if err := issuekey.CheckTitle(title, key); err != nil {
			return nil, e.fail(output.StepTitleConsistency, err)
		}
		e.pass(output.StepTitleConsistency, key.String())
	}

	projectKey := key.Project()
	project, err := tracker.Project(ctx, projectKey)
	if err != nil {
		return nil, e.fail(output.StepProjectAccess, err)
	}
	e.pass(output.StepProjectAccess, projectLabel(projectKey, project))

	rec, err := tracker.Issue(ctx, key)
	if err != nil {
		return nil, e.fail(output.StepIssueStatus, err)
	}
	category, err := gate.Evaluate(rec)
	if err != nil {
		var stateErr *failure.StateError
		if errors.As(err, &stateErr) && stateErr.Key == "" {
			stateErr.Key = key.String()
		}
		return nil, e.fail(output.StepIssueStatus, err)
	}
	e.pass(output.StepIssueStatus, category.Name)

	categoryJSON, err := json.Marshal(category)
	if err != nil {
		return nil, e.fail(output.StepIssueStatus, fmt.Errorf("encode status category: %w", err))
	}
	outs := output.Outputs{
		{Name: OutputIssueKey, Value: key.String()},
		{Name: OutputStatusCategory, Value: string(categoryJSON)},
		{Name: OutputProjectKey, Value: projectKey},
	}
	if outFile != nil {
		if err := outFile.Write(outs); err != nil {
			return nil, e.fail(output.StepOutputs, fmt.Errorf("write %s: %w", config.EnvOutputFile, err))
		}
	}
	if err := e.out.Publish(outs); err != nil {
		e.log.Warn("writing outputs to console", "error", err)
	}
	e.log.Info("gate passed", "issue", key.String(), "project", projectKey)
	return outs, nil
}

// checkBranch asserts the branch shape with the predicate first, then extracts.
func checkBranch(in config.Inputs) (issuekey.Key, error) {
	pattern, err := issuekey.CompileBranchPattern(in.BranchTypes)
	if err != nil {
		return "", &failure.ConfigError{Key: config.EnvBranchTypes, Reason: err.Error()}
	}
	if !pattern.Match(in.Branch) {
		return "", &failure.FormatError{Subject: "branch", Value: in.Branch, Pattern: pattern.Types()}
	}
	return pattern.Extract(in.Branch)
}

func (e *Engine) resolveTitle(ctx context.Context, cfg *config.Config, titles TitleSource) (string, error) {
	if !cfg.TitleFromGitHub() {
		return cfg.Inputs.PRTitle, nil
	}
	if titles == nil {
		return "", &failure.ConfigError{Key: config.EnvPRTitle, Reason: "no pull request title source available"}
	}
	owner, repo, err := config.SplitRepository(cfg.GitHub.Repository)
	if err != nil {
		return "", &failure.ConfigError{Key: config.EnvRepository, Reason: err.Error()}
	}
	title, err := titles.PullRequestTitle(ctx, owner, repo, cfg.Inputs.PRNumber)
	if err != nil {
		return "", err
	}
	e.log.Debug("pull request title fetched", "repository", cfg.GitHub.Repository, "number", cfg.Inputs.PRNumber)
	if title == "" {
		return issuekey.NoTitle, nil
	}
	return title, nil
}

func (e *Engine) pass(step, msg string) {
	e.report(output.Result{Step: step, Status: output.StatusPass, Message: msg})
}

// fail reports the failed step, logs it and returns err unchanged.
func (e *Engine) fail(step string, err error) error {
	kind := failure.KindOf(err)
	switch kind {
	case failure.KindConfig, failure.KindFormat, failure.KindConsistency, failure.KindState:
		e.report(output.Result{Step: step, Status: output.StatusFail, Kind: string(kind)})
		e.log.Info("gate refused", "step", step, "kind", kind, "error", err)
	default:
		e.report(output.Result{Step: step, Status: output.StatusError, Kind: string(kind)})
		e.log.Error("gate failed", "step", step, "kind", kind, "error", err)
	}
	return err
}

func (e *Engine) report(r output.Result) {
	if err := e.out.Step(r); err != nil {
		e.log.Warn("writing step result", "step", r.Step, "error", err)
	}
}

func projectLabel(key string, p *jira.Project) string {
	if p == nil || p.Name == "" {
		return key
	}
	return fmt.Sprintf("%s (%s)", key, p.Name)
}
