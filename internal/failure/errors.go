// Package failure defines the error taxonomy for a gate run.
//
// Every failure is terminal: nothing is retried or recovered locally. The
// orchestration boundary classifies an error with KindOf/ExitCode and prints
// it once.
package failure

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindConfig      Kind = "config"
	KindFormat      Kind = "format"
	KindConsistency Kind = "consistency"
	KindAccess      Kind = "access"
	KindSchema      Kind = "schema"
	KindState       Kind = "state"
	KindUnknown     Kind = "unknown"
)

// ConfigError reports a missing, blank or malformed input.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required input %s", e.Key)
	}
	return fmt.Sprintf("invalid input %s: %s", e.Key, e.Reason)
}

// FormatError reports a branch or title that does not have the required shape.
type FormatError struct {
	// Subject is "branch" or "title".
	Subject string
	Value   string
	// Pattern is the allow-list for branches, or the expected shape for titles.
	Pattern string
}

func (e *FormatError) Error() string {
	switch e.Subject {
	case "branch":
		return fmt.Sprintf("branch %q does not match <type>/<ISSUE-KEY> with allowed types %q", e.Value, e.Pattern)
	case "title":
		return fmt.Sprintf("pull request title %q is not of the form %q", e.Value, e.Pattern)
	default:
		return fmt.Sprintf("%s %q has an invalid format (expected %s)", e.Subject, e.Value, e.Pattern)
	}
}

// ConsistencyError reports a title whose issue key differs from the branch's.
type ConsistencyError struct {
	BranchKey string
	TitleKey  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("pull request title references %s but branch references %s", e.TitleKey, e.BranchKey)
}

// AccessError reports a rejected or failed request to an external service.
type AccessError struct {
	// Resource names what was requested, e.g. "project" or "issue".
	Resource   string
	Key        string
	StatusCode int
	Detail     string
	Err        error
}

func (e *AccessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot access %s %s", e.Resource, e.Key)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AccessError) Unwrap() error { return e.Err }

// SchemaError reports a tracker response without the expected field path.
// Raw holds the full response so it can be inspected from the CI log.
type SchemaError struct {
	Path string
	Raw  []byte
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tracker response has no %s: %s", e.Path, compactRaw(e.Raw))
}

// StateError reports a status category other than the accepted one.
type StateError struct {
	Key          string
	CategoryID   string
	CategoryName string
	Want         string
}

func (e *StateError) Error() string {
	name := e.CategoryName
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("issue %s status category is %s (id %s), want %s", e.Key, name, e.CategoryID, e.Want)
}

func compactRaw(raw []byte) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "<empty>"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(bytes.TrimSpace(raw))
}

// KindOf classifies err. Unclassified errors (including nil) are KindUnknown.
func KindOf(err error) Kind {
	var (
		cfgErr    *ConfigError
		fmtErr    *FormatError
		consErr   *ConsistencyError
		accessErr *AccessError
		schemaErr *SchemaError
		stateErr  *StateError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &cfgErr):
		return KindConfig
	case errors.As(err, &fmtErr):
		return KindFormat
	case errors.As(err, &consErr):
		return KindConsistency
	case errors.As(err, &accessErr):
		return KindAccess
	case errors.As(err, &schemaErr):
		return KindSchema
	case errors.As(err, &stateErr):
		return KindState
	default:
		return KindUnknown
	}
}
