// Package columns implements the workflow-column migration engine: the
// column model, the structural diff between two column sets, the impact
// resolver for removed columns, the migration plan validator and the apply
// orchestrator. Everything except Apply is pure computation with no I/O.
package columns

import (
	"sort"
	"strings"
)

// Externally observable limits, exposed so callers can render "max reached"
// UI without guessing.
const (
	MinColumns    = 1
	MaxColumns    = 20
	MaxNameLength = 50
)

// Column is one lane of a kanban board. The ID is stable and never reused
// after deletion; Position is dense zero-based within the owning set.
type Column struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	WIPLimit *int   `json:"wip_limit,omitempty"`
	Color    string `json:"color,omitempty"`
}

func (c Column) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Code: CodeEmptyName, Names: []string{c.Name}}
	}
	if len(strings.TrimSpace(c.Name)) > MaxNameLength {
		return &ValidationError{Code: CodeNameTooLong, Names: []string{c.Name}}
	}
	if c.WIPLimit != nil && *c.WIPLimit < 1 {
		return &ValidationError{Code: CodeInvalidWIPLimit, Names: []string{c.Name}}
	}
	return nil
}

// NormalizeName is the duplicate-detection key: trimmed, casefolded, inner
// whitespace collapsed. "QA" and "qa " normalize to the same name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ColumnSet is an immutable, ordered set of columns belonging to one
// workflow template. It can only be built through NewColumnSet, which
// enforces the set invariants.
type ColumnSet struct {
	columns []Column
}

// NewColumnSet validates cols and returns the set. Input order is
// authoritative: positions are assigned densely 0..n-1 from it, so a draft
// arriving from a UI reorder is already normalized. Names are trimmed.
func NewColumnSet(cols []Column) (ColumnSet, error) {
	if len(cols) < MinColumns || len(cols) > MaxColumns {
		return ColumnSet{}, &ValidationError{Code: CodeColumnCountOutOfRange, Count: len(cols)}
	}
	seen := make(map[string]string, len(cols))
	seenIDs := make(map[string]string, len(cols))
	var dupes, dupeIDs []string
	out := make([]Column, len(cols))
	for i, c := range cols {
		if err := c.validate(); err != nil {
			return ColumnSet{}, err
		}
		c.Name = strings.TrimSpace(c.Name)
		key := NormalizeName(c.Name)
		if first, ok := seen[key]; ok {
			if len(dupes) == 0 {
				dupes = append(dupes, first)
			}
			dupes = append(dupes, c.Name)
		} else {
			seen[key] = c.Name
		}
		// Empty ids mean identity not assigned yet; only assigned ids
		// must be unique within the set.
		if c.ID != "" {
			if first, ok := seenIDs[c.ID]; ok {
				if len(dupeIDs) == 0 {
					dupeIDs = append(dupeIDs, first)
				}
				dupeIDs = append(dupeIDs, c.Name)
			} else {
				seenIDs[c.ID] = c.Name
			}
		}
		c.Position = i
		out[i] = c
	}
	if len(dupeIDs) > 0 {
		return ColumnSet{}, &ValidationError{Code: CodeDuplicateColumnID, Names: dupeIDs}
	}
	if len(dupes) > 0 {
		return ColumnSet{}, &ValidationError{Code: CodeDuplicateColumnName, Names: dupes}
	}
	return ColumnSet{columns: out}, nil
}

// Columns returns the columns in position order. The slice is a copy.
func (s ColumnSet) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Len reports the number of columns in the set.
func (s ColumnSet) Len() int { return len(s.columns) }

// ByID returns the column with the given id, if present.
func (s ColumnSet) ByID(id string) (Column, bool) {
	for _, c := range s.columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the display names in position order.
func (s ColumnSet) Names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// SortByPosition orders cols by their declared position before set
// construction. Used by callers that receive explicit positions (storage,
// API payloads) rather than display order.
func SortByPosition(cols []Column) []Column {
	out := make([]Column, len(cols))
	copy(out, cols)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
