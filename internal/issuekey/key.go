// Package issuekey derives tracker issue keys from branch names and pull
// request titles.
//
// The package only works on plain strings: callers load inputs and report
// errors. Failures are *failure.FormatError or *failure.ConsistencyError.
package issuekey

import "strings"

// keyPattern matches PROJECT-NUMBER. The project code accepts mixed-case
// letters and digits; the sequence is numeric.
const keyPattern = `[A-Za-z0-9]+-[0-9]+`

// Key is an issue key such as "PROJ-123".
type Key string

func (k Key) String() string {
	return string(k)
}

// Project returns the project key: everything before the first hyphen.
func (k Key) Project() string {
	project, _, _ := strings.Cut(string(k), "-")
	return project
}
