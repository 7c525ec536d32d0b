package issuekey

import (
	"fmt"
	"issuegate/internal/failure"
	"regexp"
	"strings"
)

// DefaultBranchTypes is the allow-list used when none is configured.
const DefaultBranchTypes = "task|test|bugfix|feature|hotfix|epic"

const refHeadsPrefix = "refs/heads/"

// BranchPattern matches branch references of the form
// [refs/heads/]<type>/<ISSUE-KEY>[anything], where <type> is one of a fixed
// set of literal tokens.
type BranchPattern struct {
	types string
	re    *regexp.Regexp
}

// CompileBranchPattern builds a BranchPattern from a "|"-delimited list of
// branch types. Each token is matched literally; regexp metacharacters in a
// token carry no special meaning.
func CompileBranchPattern(types string) (*BranchPattern, error) {
	tokens := strings.Split(types, "|")
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, fmt.Errorf("branch types %q contain an empty alternative", types)
		}
		quoted = append(quoted, regexp.QuoteMeta(tok))
	}

	expr := `^(?:` + regexp.QuoteMeta(refHeadsPrefix) + `)?(?:` + strings.Join(quoted, "|") + `)/(` + keyPattern + `)`
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile branch pattern: %w", err)
	}
	return &BranchPattern{types: types, re: re}, nil
}

// Types returns the allow-list the pattern was built from.
func (p *BranchPattern) Types() string {
	return p.types
}

// Match reports whether branch has an allowed type followed by an issue key.
func (p *BranchPattern) Match(branch string) bool {
	return p.re.MatchString(branch)
}

// Extract returns the issue key embedded in branch.
func (p *BranchPattern) Extract(branch string) (Key, error) {
	m := p.re.FindStringSubmatch(branch)
	if m == nil {
		return "", &failure.FormatError{Subject: "branch", Value: branch, Pattern: p.types}
	}
	return Key(m[1]), nil
}

// MatchBranch is the predicate form of FromBranch. An invalid allow-list
// never matches.
func MatchBranch(branch, types string) bool {
	p, err := CompileBranchPattern(types)
	if err != nil {
		return false
	}
	return p.Match(branch)
}

// FromBranch extracts the issue key from branch using the given allow-list.
func FromBranch(branch, types string) (Key, error) {
	p, err := CompileBranchPattern(types)
	if err != nil {
		return "", &failure.ConfigError{Key: "branch types", Reason: err.Error()}
	}
	return p.Extract(branch)
}
