// Package jira is the tracker collaborator: two authenticated GETs against
// the Jira Cloud REST API v3.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"issuegate/internal/failure"
	"issuegate/internal/gate"
	"issuegate/internal/issuekey"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	projectPath = "/rest/api/3/project/"
	issuePath   = "/rest/api/3/issue/"

	// maxBody caps how much of a response is read.
	maxBody = 4 << 20
)

type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

type options struct {
	timeout   time.Duration
	logger    *slog.Logger
	transport http.RoundTripper
}

type Option func(*options)

// WithTimeout bounds each request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger logs one debug line per request and response.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// loggingRoundTripper emits a line per request and response, with latency.
// Only method, URL and status are logged; headers (and so credentials) never are.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("tracker request", "method", req.Method, "url", req.URL.String())
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("tracker request failed", "url", req.URL.String(), "after", dur, "error", err)
	} else {
		t.logger.Debug("tracker response", "url", req.URL.String(), "status", resp.StatusCode, "after", dur)
	}
	return resp, err
}

func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("jira client: base url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("jira client: base url: %w", err)
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.timeout <= 0 {
		return nil, fmt.Errorf("jira client: timeout must be > 0")
	}

	transport := o.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if o.logger != nil {
		transport = &loggingRoundTripper{base: transport, logger: o.logger}
	}

	return &Client{
		baseURL:  base,
		username: username,
		password: password,
		http:     &http.Client{Transport: transport, Timeout: o.timeout},
	}, nil
}

// Project fetches project metadata. Any non-2xx answer (unknown project, bad
// credentials, no permission) is a *failure.AccessError.
func (c *Client) Project(ctx context.Context, projectKey string) (*Project, error) {
	body, err := c.get(ctx, "project", projectKey, projectPath+url.PathEscape(projectKey))
	if err != nil {
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &failure.SchemaError{Path: "project", Raw: body}
	}
	return &p, nil
}

// Issue fetches an issue as generic JSON for the status gate.
func (c *Client) Issue(ctx context.Context, key issuekey.Key) (gate.Record, error) {
	body, err := c.get(ctx, "issue", key.String(), issuePath+url.PathEscape(key.String()))
	if err != nil {
		return nil, err
	}
	return gate.Decode(body)
}

func (c *Client) get(ctx context.Context, resource, key, path string) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("jira client: ctx is nil")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("jira client: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &failure.AccessError{Resource: resource, Key: key, Err: scrubURLError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &failure.AccessError{Resource: resource, Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &failure.AccessError{
			Resource:   resource,
			Key:        key,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(resp.StatusCode, body),
		}
	}
	return body, nil
}

func errorDetail(status int, body []byte) string {
	var jiraErr ErrorResponse
	if json.Unmarshal(body, &jiraErr) == nil && (len(jiraErr.ErrorMessages) > 0 || len(jiraErr.Errors) > 0) {
		parts := append([]string(nil), jiraErr.ErrorMessages...)
		fields := make([]string, 0, len(jiraErr.Errors))
		for field := range jiraErr.Errors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			parts = append(parts, field+": "+jiraErr.Errors[field])
		}
		return strings.Join(parts, "; ")
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status"
}

// scrubURLError drops the "Get <url>:" prefix of *url.Error; the resource and
// key already identify the request.
func scrubURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return fmt.Errorf("timed out: %w", ue.Err)
		}
		return ue.Err
	}
	return err
}
