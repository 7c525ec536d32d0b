package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// GitHubOutputSink appends run outputs to a GitHub Actions output file
// ($GITHUB_OUTPUT). Only Outputs values are written; everything else is
// ignored, so nothing reaches the file unless the run passed.
type GitHubOutputSink struct {
	path string
	mu   sync.Mutex
	// newDelimiter is swapped in tests.
	newDelimiter func() string
}

func NewGitHubOutputSink(path string) (*GitHubOutputSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path required")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return &GitHubOutputSink{
		path:         path,
		newDelimiter: func() string { return "ghadelimiter_" + uuid.NewString() },
	}, nil
}

func (s *GitHubOutputSink) Write(v any) error {
	outs, ok := v.(Outputs)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, o := range outs {
		if err := s.formatOutput(&b, o); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return f.Close()
}

// formatOutput writes name=value, or the name<<DELIM form for multi-line values.
func (s *GitHubOutputSink) formatOutput(b *strings.Builder, o Output) error {
	if o.Name == "" || strings.ContainsAny(o.Name, "=\r\n") || strings.Contains(o.Name, "<<") {
		return fmt.Errorf("invalid output name %q", o.Name)
	}
	if !strings.ContainsAny(o.Value, "\r\n") {
		fmt.Fprintf(b, "%s=%s\n", o.Name, o.Value)
		return nil
	}
	delim := s.newDelimiter()
	if strings.Contains(o.Value, delim) {
		return fmt.Errorf("output %q contains its delimiter", o.Name)
	}
	fmt.Fprintf(b, "%s<<%s\n%s\n%s\n", o.Name, delim, o.Value, delim)
	return nil
}

func (s *GitHubOutputSink) Close() error {
	return nil
}
