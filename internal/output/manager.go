package output

import (
	"errors"
	"fmt"
)

// Sink receives the records of a gate run: Result, Outputs and Finished.
// Sinks ignore record types they do not render.
type Sink interface {
	Write(v any) error
	Close() error
}

// Manager fans records out to every registered sink, in registration order.
type Manager struct {
	sinks []Sink
	// results keeps every reported step for the run summary.
	results []Result
}

func NewManager(sinks ...Sink) (*Manager, error) {
	m := &Manager{}
	for _, s := range sinks {
		if err := m.AddSink(s); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) AddSink(s Sink) error {
	if s == nil {
		return fmt.Errorf("sink must not be nil")
	}
	m.sinks = append(m.sinks, s)
	return nil
}

// Step records the outcome of one step.
func (m *Manager) Step(r Result) error {
	m.results = append(m.results, r)
	return m.write(r)
}

// Publish writes the run outputs. Callers publish only on success.
func (m *Manager) Publish(outs Outputs) error {
	return m.write(outs)
}

// Finish records the exit code and closes every sink.
func (m *Manager) Finish(exitCode int) error {
	werr := m.write(Finished{ExitCode: exitCode})

	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(werr, fmt.Errorf("errors closing sinks: %w", errors.Join(errs...)))
	}
	return werr
}

// Results returns the steps reported so far.
func (m *Manager) Results() []Result {
	out := make([]Result, len(m.results))
	copy(out, m.results)
	return out
}

func (m *Manager) write(v any) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(v); err != nil {
			errs = append(errs, fmt.Errorf("write %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors writing to sinks: %w", errors.Join(errs...))
	}
	return nil
}
