package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

type ConsoleSink struct {
	writer io.Writer
	format string // "text", "ndjson"
	mu     sync.Mutex
}

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{writer: w, format: format}
}

var statusColors = map[Status]*color.Color{
	StatusPass:  color.New(color.FgGreen, color.Bold),
	StatusFail:  color.New(color.FgRed, color.Bold),
	StatusError: color.New(color.FgYellow, color.Bold),
	StatusSkip:  color.New(color.Faint),
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "ndjson":
		e, ok := eventFrom(v)
		if !ok {
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		return s.writeText(v)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) writeText(v any) error {
	switch t := v.(type) {
	case Result:
		status := string(t.Status)
		if c, ok := statusColors[t.Status]; ok {
			status = c.Sprint(status)
		}
		line := fmt.Sprintf("[%s] %s", status, t.Step)
		switch {
		case t.Message != "":
			line += ": " + t.Message
		case t.Kind != "":
			line += " (" + t.Kind + ")"
		}
		if _, err := fmt.Fprintln(s.writer, line); err != nil {
			return err
		}
	case Outputs:
		for _, o := range t {
			if _, err := fmt.Fprintf(s.writer, "%s=%s\n", o.Name, o.Value); err != nil {
				return err
			}
		}
	default:
		// Lifecycle records carry nothing for humans.
		return nil
	}
	return flushIfPossible(s.writer)
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return flushIfPossible(s.writer)
}

type flusher interface {
	Flush() error
}

func flushIfPossible(w io.Writer) error {
	f, ok := w.(flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}
