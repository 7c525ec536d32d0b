// Package gate decides whether a tracker issue may pass the CI gate.
package gate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"issuegate/internal/failure"
	"math"
	"strconv"
	"strings"
)

// InProgressCategoryID is the tracker's status-category id for "In Progress".
// It is the only category that passes the gate.
const InProgressCategoryID int64 = 4

var categoryPath = []string{"fields", "status", "statusCategory"}

// Record is an issue response as generic JSON.
type Record map[string]any

// StatusCategory is the category object found on the issue. Raw holds the
// object exactly as the tracker returned it; it is what gets serialized.
type StatusCategory struct {
	ID   int64
	Key  string
	Name string
	Raw  map[string]any
}

func (c StatusCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Raw)
}

// Decode parses an issue response body. Numbers are kept as json.Number.
// A body that is not a JSON object is a *failure.SchemaError.
func Decode(body []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil || rec == nil {
		return nil, &failure.SchemaError{Path: strings.Join(categoryPath, "."), Raw: body}
	}
	return rec, nil
}

// Evaluate returns the issue's status category when it is "In Progress".
//
// A missing path segment or id is a *failure.SchemaError echoing the record;
// any other id, including a non-integer one, is a *failure.StateError.
func Evaluate(rec Record) (StatusCategory, error) {
	node := map[string]any(rec)
	for i, segment := range categoryPath {
		next, ok := node[segment].(map[string]any)
		if !ok {
			return StatusCategory{}, schemaError(rec, categoryPath[:i+1]...)
		}
		node = next
	}

	rawID, ok := node["id"]
	if !ok || rawID == nil {
		return StatusCategory{}, schemaError(rec, append(categoryPath, "id")...)
	}

	// Only the integer 4 passes; a string "4" or 4.5 is some other category.
	id, isInt := categoryID(rawID)
	cat := StatusCategory{ID: id, Raw: node}
	cat.Key, _ = node["key"].(string)
	cat.Name, _ = node["name"].(string)

	if !isInt || id != InProgressCategoryID {
		issueKey, _ := rec["key"].(string)
		return cat, &failure.StateError{
			Key:          issueKey,
			CategoryID:   idText(rawID),
			CategoryName: cat.Name,
			Want:         fmt.Sprintf("In Progress (id %d)", InProgressCategoryID),
		}
	}
	return cat, nil
}

func categoryID(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	default:
		return 0, false
	}
}

func idText(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func schemaError(rec Record, path ...string) *failure.SchemaError {
	raw, err := json.Marshal(rec)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", map[string]any(rec)))
	}
	return &failure.SchemaError{Path: strings.Join(path, "."), Raw: raw}
}
