package output

// Event is a record for NDJSON streaming output, one JSON object per line:
// - step.result
// - run.outputs
// - run.finished
type Event struct {
	Type string `json:"type"`
	*Result
	Outputs  map[string]string `json:"outputs,omitempty"`
	ExitCode *int              `json:"exit_code,omitempty"`
}

func eventFrom(v any) (Event, bool) {
	switch t := v.(type) {
	case Result:
		return Event{Type: "step.result", Result: &t}, true
	case Outputs:
		m := make(map[string]string, len(t))
		for _, o := range t {
			m[o.Name] = o.Value
		}
		return Event{Type: "run.outputs", Outputs: m}, true
	case Finished:
		code := t.ExitCode
		return Event{Type: "run.finished", ExitCode: &code}, true
	default:
		return Event{}, false
	}
}
