package issuekey

import (
	"issuegate/internal/failure"
	"regexp"
)

// NoTitle disables the title check.
const NoTitle = "none"

// TitleShape is the title form reported to users.
const TitleShape = "ISSUE-KEY | Title"

// Word and whitespace classes are Unicode-aware: a body may start with any
// letter or digit, and may not end in any Unicode space (NBSP included).
const (
	titleWordChar = `[\p{L}\p{N}_]`
	titleLastChar = `[^\s\p{Z}\x{85}]`
)

// An issue key, at most one space, "|" or ":", exactly one space, then a body
// that starts with a word character and does not end in whitespace.
var titlePattern = regexp.MustCompile(`^(` + keyPattern + `) ?[|:] ` + titleWordChar + `(?:.*` + titleLastChar + `)?$`)

// FromTitle extracts the issue key that prefixes a pull request title.
// The title is not trimmed.
func FromTitle(title string) (Key, error) {
	m := titlePattern.FindStringSubmatch(title)
	if m == nil {
		return "", &failure.FormatError{Subject: "title", Value: title, Pattern: TitleShape}
	}
	return Key(m[1]), nil
}

// CheckTitle verifies that title references the same issue as the branch.
// It is a no-op for NoTitle.
func CheckTitle(title string, branchKey Key) error {
	if title == NoTitle {
		return nil
	}
	titleKey, err := FromTitle(title)
	if err != nil {
		return err
	}
	if titleKey != branchKey {
		return &failure.ConsistencyError{BranchKey: branchKey.String(), TitleKey: titleKey.String()}
	}
	return nil
}
