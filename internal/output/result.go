package output

type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusSkip  Status = "SKIPPED"
	StatusError Status = "ERROR"
)

// Steps of a gate run, in execution order.
const (
	StepConfig           = "config"
	StepBranchFormat     = "branch-format"
	StepTitleConsistency = "title-consistency"
	StepProjectAccess    = "project-access"
	StepIssueStatus      = "issue-status"
	StepOutputs          = "outputs"
)

// Result reports the outcome of one step.
type Result struct {
	Step    string `json:"step"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	// Kind is the failure kind for FAIL and ERROR results.
	Kind string `json:"kind,omitempty"`
}

// Output is one named value of the run, e.g. issue_key=PROJ-1.
type Output struct {
	Name  string
	Value string
}

// Outputs are written in order, only after every step passed.
type Outputs []Output

func (o Outputs) Get(name string) (string, bool) {
	for _, out := range o {
		if out.Name == name {
			return out.Value, true
		}
	}
	return "", false
}

// Finished closes a run. ExitCode follows failure.ExitCode.
type Finished struct {
	ExitCode int
}
