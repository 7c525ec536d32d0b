package engine

import (
	"bytes"
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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const (
	inProgressBody = `{"key":"PROJ-123","fields":{"status":{"name":"In Review","statusCategory":{"id":4,"key":"indeterminate","name":"In Progress"}}}}`
	doneBody       = `{"key":"PROJ-123","fields":{"status":{"name":"Closed","statusCategory":{"id":3,"key":"done","name":"Done"}}}}`
)

type fakeTracker struct {
	projectErr error
	issueBody  string
	issueErr   error

	projectCalls []string
	issueCalls   []issuekey.Key
}

func (f *fakeTracker) Project(_ context.Context, projectKey string) (*jira.Project, error) {
	f.projectCalls = append(f.projectCalls, projectKey)
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	return &jira.Project{Key: projectKey, Name: "Project " + projectKey}, nil
}

func (f *fakeTracker) Issue(_ context.Context, key issuekey.Key) (gate.Record, error) {
	f.issueCalls = append(f.issueCalls, key)
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return gate.Decode([]byte(f.issueBody))
}

type fakeTitles struct {
	title string
	err   error
	calls int
}

func (f *fakeTitles) PullRequestTitle(_ context.Context, owner, repo string, number int) (string, error) {
	f.calls++
	if owner != "octo" || repo != "app" || number != 7 {
		return "", fmt.Errorf("unexpected pull request %s/%s#%d", owner, repo, number)
	}
	return f.title, f.err
}

type recordingSink struct {
	writes []any
}

func (s *recordingSink) Write(v any) error {
	s.writes = append(s.writes, v)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) results() []output.Result {
	var out []output.Result
	for _, w := range s.writes {
		if r, ok := w.(output.Result); ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *recordingSink) outputs() output.Outputs {
	for _, w := range s.writes {
		if o, ok := w.(output.Outputs); ok {
			return o
		}
	}
	return nil
}

func baseEnv() map[string]string {
	return map[string]string{
		config.EnvBranch:       "refs/heads/feature/PROJ-123",
		config.EnvJiraUsername: "user",
		config.EnvJiraPassword: "secret",
	}
}

func loaderFor(env map[string]string) Loader {
	return func() (*config.Config, error) {
		cfg, err := config.FromEnv(env)
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
}

func runEngine(t *testing.T, env map[string]string, tracker Tracker, titles TitleSource) (*recordingSink, output.Outputs, error) {
	t.Helper()
	sink := &recordingSink{}
	mgr, err := output.NewManager(sink)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	e, err := New(mgr, logger, func(context.Context, *config.Config) (Tracker, TitleSource, error) {
		return tracker, titles, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	outs, runErr := e.Run(context.Background(), loaderFor(env))
	return sink, outs, runErr
}

func TestRun_Success(t *testing.T) {
	env := baseEnv()
	env[config.EnvPRTitle] = "PROJ-123 | Corrected the logic"
	tracker := &fakeTracker{issueBody: inProgressBody}

	sink, outs, err := runEngine(t, env, tracker, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got, _ := outs.Get(OutputIssueKey); got != "PROJ-123" {
		t.Fatalf("issue_key = %q", got)
	}
	if got, _ := outs.Get(OutputProjectKey); got != "PROJ" {
		t.Fatalf("project_key = %q", got)
	}
	cat, _ := outs.Get(OutputStatusCategory)
	var decoded map[string]any
	if err := json.Unmarshal([]byte(cat), &decoded); err != nil {
		t.Fatalf("status_category not json: %v (%q)", err, cat)
	}
	if decoded["id"] != float64(4) || decoded["name"] != "In Progress" {
		t.Fatalf("status_category = %v", decoded)
	}

	if !reflect.DeepEqual(tracker.projectCalls, []string{"PROJ"}) {
		t.Fatalf("project calls = %v", tracker.projectCalls)
	}
	if !reflect.DeepEqual(tracker.issueCalls, []issuekey.Key{"PROJ-123"}) {
		t.Fatalf("issue calls = %v", tracker.issueCalls)
	}

	wantSteps := []string{
		output.StepConfig,
		output.StepBranchFormat,
		output.StepTitleConsistency,
		output.StepProjectAccess,
		output.StepIssueStatus,
	}
	results := sink.results()
	if len(results) != len(wantSteps) {
		t.Fatalf("results = %+v", results)
	}
	for i, r := range results {
		if r.Step != wantSteps[i] || r.Status != output.StatusPass {
			t.Fatalf("result %d = %+v, want %s PASS", i, r, wantSteps[i])
		}
	}
	if !reflect.DeepEqual(sink.outputs(), outs) {
		t.Fatalf("published outputs %v != returned %v", sink.outputs(), outs)
	}
}

func TestRun_NoTitleSkipsConsistency(t *testing.T) {
	sink, _, err := runEngine(t, baseEnv(), &fakeTracker{issueBody: inProgressBody}, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, r := range sink.results() {
		if r.Step == output.StepTitleConsistency && r.Status != output.StatusSkip {
			t.Fatalf("title step = %+v, want SKIPPED", r)
		}
	}
}

func TestRun_SingleDefects(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(env map[string]string)
		tracker  *fakeTracker
		wantKind failure.Kind
		wantExit int
		wantStep string
		// trackerCalls is the number of tracker calls expected before the failure.
		trackerCalls int
	}{
		{
			name:         "missing username",
			mutate:       func(env map[string]string) { delete(env, config.EnvJiraUsername) },
			tracker:      &fakeTracker{issueBody: inProgressBody},
			wantKind:     failure.KindConfig,
			wantExit:     failure.ExitFatal,
			wantStep:     output.StepConfig,
			trackerCalls: 0,
		},
		{
			name:         "bad branch shape",
			mutate:       func(env map[string]string) { env[config.EnvBranch] = "invalid/PROJ-123" },
			tracker:      &fakeTracker{issueBody: inProgressBody},
			wantKind:     failure.KindFormat,
			wantExit:     failure.ExitRefused,
			wantStep:     output.StepBranchFormat,
			trackerCalls: 0,
		},
		{
			name:         "mismatched title",
			mutate:       func(env map[string]string) { env[config.EnvPRTitle] = "PROJ-999 | Other work" },
			tracker:      &fakeTracker{issueBody: inProgressBody},
			wantKind:     failure.KindConsistency,
			wantExit:     failure.ExitRefused,
			wantStep:     output.StepTitleConsistency,
			trackerCalls: 0,
		},
		{
			name:         "malformed title",
			mutate:       func(env map[string]string) { env[config.EnvPRTitle] = "General improvements" },
			tracker:      &fakeTracker{issueBody: inProgressBody},
			wantKind:     failure.KindFormat,
			wantExit:     failure.ExitRefused,
			wantStep:     output.StepTitleConsistency,
			trackerCalls: 0,
		},
		{
			name:   "project not accessible",
			mutate: func(map[string]string) {},
			tracker: &fakeTracker{
				issueBody:  inProgressBody,
				projectErr: &failure.AccessError{Resource: "project", Key: "PROJ", StatusCode: http.StatusNotFound},
			},
			wantKind:     failure.KindAccess,
			wantExit:     failure.ExitTracker,
			wantStep:     output.StepProjectAccess,
			trackerCalls: 1,
		},
		{
			name:         "wrong status",
			mutate:       func(map[string]string) {},
			tracker:      &fakeTracker{issueBody: doneBody},
			wantKind:     failure.KindState,
			wantExit:     failure.ExitRefused,
			wantStep:     output.StepIssueStatus,
			trackerCalls: 2,
		},
		{
			name:         "missing status category",
			mutate:       func(map[string]string) {},
			tracker:      &fakeTracker{issueBody: `{"key":"PROJ-123","fields":{"status":{"name":"Open"}}}`},
			wantKind:     failure.KindSchema,
			wantExit:     failure.ExitTracker,
			wantStep:     output.StepIssueStatus,
			trackerCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			tt.mutate(env)

			sink, outs, err := runEngine(t, env, tt.tracker, nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := failure.KindOf(err); got != tt.wantKind {
				t.Fatalf("kind = %s, want %s (err: %v)", got, tt.wantKind, err)
			}
			if got := failure.ExitCode(err); got != tt.wantExit {
				t.Fatalf("exit = %d, want %d", got, tt.wantExit)
			}
			if outs != nil || sink.outputs() != nil {
				t.Fatalf("outputs written on failure: %v / %v", outs, sink.outputs())
			}
			results := sink.results()
			last := results[len(results)-1]
			if last.Step != tt.wantStep || last.Kind != string(tt.wantKind) {
				t.Fatalf("last result = %+v, want step %s kind %s", last, tt.wantStep, tt.wantKind)
			}
			if last.Status == output.StatusPass {
				t.Fatalf("last result passed: %+v", last)
			}
			calls := len(tt.tracker.projectCalls) + len(tt.tracker.issueCalls)
			if calls != tt.trackerCalls {
				t.Fatalf("tracker calls = %d, want %d", calls, tt.trackerCalls)
			}
		})
	}
}

func TestRun_StateErrorNamesIssue(t *testing.T) {
	body := `{"fields":{"status":{"statusCategory":{"id":2,"name":"To Do"}}}}`
	_, _, err := runEngine(t, baseEnv(), &fakeTracker{issueBody: body}, nil)

	var stateErr *failure.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if stateErr.Key != "PROJ-123" || stateErr.CategoryName != "To Do" {
		t.Fatalf("StateError = %+v", stateErr)
	}
}

func TestRun_TitleFromGitHub(t *testing.T) {
	env := baseEnv()
	env[config.EnvPRNumber] = "7"
	env[config.EnvRepository] = "octo/app"

	t.Run("matching title passes", func(t *testing.T) {
		titles := &fakeTitles{title: "PROJ-123: Fetch the title"}
		_, _, err := runEngine(t, env, &fakeTracker{issueBody: inProgressBody}, titles)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if titles.calls != 1 {
			t.Fatalf("title lookups = %d, want 1", titles.calls)
		}
	})

	t.Run("lookup failure is an access error", func(t *testing.T) {
		titles := &fakeTitles{err: &failure.AccessError{Resource: "pull request", Key: "octo/app#7", StatusCode: 404}}
		tracker := &fakeTracker{issueBody: inProgressBody}
		_, _, err := runEngine(t, env, tracker, titles)
		if failure.KindOf(err) != failure.KindAccess {
			t.Fatalf("kind = %s, want access (err: %v)", failure.KindOf(err), err)
		}
		if len(tracker.projectCalls) != 0 {
			t.Fatalf("tracker called after title failure")
		}
	})

	t.Run("explicit title wins", func(t *testing.T) {
		withTitle := config.Merge(env, map[string]string{config.EnvPRTitle: "PROJ-123 | Given"})
		titles := &fakeTitles{title: "ignored"}
		if _, _, err := runEngine(t, withTitle, &fakeTracker{issueBody: inProgressBody}, titles); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if titles.calls != 0 {
			t.Fatalf("title looked up despite explicit title")
		}
	})
}

func TestRun_Idempotent(t *testing.T) {
	env := baseEnv()
	env[config.EnvPRTitle] = "PROJ-123 | Corrected the logic"

	_, first, err := runEngine(t, env, &fakeTracker{issueBody: inProgressBody}, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, second, err := runEngine(t, env, &fakeTracker{issueBody: inProgressBody}, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("outputs differ:\n%v\n%v", first, second)
	}
}

func TestRun_WritesOutputFileAgainstJira(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/project/PROJ", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"10000","key":"PROJ","name":"Project"}`))
	})
	mux.HandleFunc("/rest/api/3/issue/PROJ-123", func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "user" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(inProgressBody))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	outFile := filepath.Join(t.TempDir(), "github_output")
	env := baseEnv()
	env[config.EnvJiraURL] = server.URL
	env[config.EnvOutputFile] = outFile

	mgr, _ := output.NewManager()
	e, err := New(mgr, nil, func(_ context.Context, cfg *config.Config) (Tracker, TitleSource, error) {
		c, err := jira.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Username, cfg.Tracker.Password, jira.WithTimeout(2*time.Second))
		return c, nil, err
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Run(context.Background(), loaderFor(env)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	b, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read output file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("output file lines = %q", lines)
	}
	if lines[0] != "issue_key=PROJ-123" || lines[2] != "project_key=PROJ" {
		t.Fatalf("output file = %q", lines)
	}
	if !strings.HasPrefix(lines[1], `status_category={"id":4,`) {
		t.Fatalf("status_category line = %q", lines[1])
	}
}

func TestNew_Validates(t *testing.T) {
	mgr, _ := output.NewManager()
	if _, err := New(nil, nil, func(context.Context, *config.Config) (Tracker, TitleSource, error) { return nil, nil, nil }); err == nil {
		t.Fatalf("expected error for nil manager")
	}
	if _, err := New(mgr, nil, nil); err == nil {
		t.Fatalf("expected error for nil clients")
	}
}

func TestRun_OutputFileFailureWritesNothingToConsole(t *testing.T) {
	env := baseEnv()
	// A directory cannot be opened for appending.
	env[config.EnvOutputFile] = t.TempDir()

	sink, outs, err := runEngine(t, env, &fakeTracker{issueBody: inProgressBody}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := failure.ExitCode(err); got != failure.ExitFatal {
		t.Fatalf("exit = %d, want %d (err: %v)", got, failure.ExitFatal, err)
	}
	if outs != nil || sink.outputs() != nil {
		t.Fatalf("outputs published despite file failure: %v / %v", outs, sink.outputs())
	}
	results := sink.results()
	last := results[len(results)-1]
	if last.Step != output.StepOutputs || last.Status != output.StatusError {
		t.Fatalf("last result = %+v, want %s ERROR", last, output.StepOutputs)
	}
}

func TestRun_ClientFailureReportsConfigOnce(t *testing.T) {
	sink := &recordingSink{}
	mgr, _ := output.NewManager(sink)
	e, err := New(mgr, nil, func(context.Context, *config.Config) (Tracker, TitleSource, error) {
		return nil, nil, &failure.ConfigError{Key: config.EnvJiraURL, Reason: "bad url"}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, runErr := e.Run(context.Background(), loaderFor(baseEnv()))
	if failure.KindOf(runErr) != failure.KindConfig {
		t.Fatalf("kind = %s, want config (err: %v)", failure.KindOf(runErr), runErr)
	}
	results := sink.results()
	if len(results) != 1 {
		t.Fatalf("results = %+v, want a single config result", results)
	}
	if results[0].Step != output.StepConfig || results[0].Status != output.StatusFail {
		t.Fatalf("result = %+v, want config FAIL", results[0])
	}
}
