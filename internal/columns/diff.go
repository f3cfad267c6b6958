package columns

import "strings"

// ChangeKind classifies one structural change between two column sets.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeRenamed ChangeKind = "renamed"
)

// ChangeRecord is one entry of a structural diff. It is derived, never
// stored; every diff request regenerates the list.
type ChangeRecord struct {
	Kind     ChangeKind `json:"kind" enum:"added,removed,renamed"`
	ColumnID string     `json:"column_id,omitempty"`
	Column   Column     `json:"column"`
	OldName  string     `json:"old_name,omitempty"`
	NewName  string     `json:"new_name,omitempty"`
}

// Diff computes the structural change list between the committed set and a
// candidate. Columns are matched by identity: a candidate column carrying
// the id of an old column is an edit of that column, one without a prior id
// is added, and old ids absent from the candidate are removed. A matched
// pair whose trimmed names differ (case-sensitively: a rename to different
// casing is a visible rename) is renamed.
//
// The order of the result is a contract callers iterate on: all removed in
// old position order, then all renamed in old position order, then all
// added in new position order. Reorder-only and WIP/color-only edits emit
// nothing. Output is deterministic for a given (old, candidate) pair.
func Diff(old, candidate ColumnSet) []ChangeRecord {
	inCandidate := make(map[string]Column, candidate.Len())
	for _, c := range candidate.columns {
		if c.ID != "" {
			inCandidate[c.ID] = c
		}
	}
	inOld := make(map[string]bool, old.Len())
	for _, c := range old.columns {
		inOld[c.ID] = true
	}

	var removed, renamed, added []ChangeRecord
	for _, c := range old.columns {
		next, ok := inCandidate[c.ID]
		if !ok {
			removed = append(removed, ChangeRecord{Kind: ChangeRemoved, ColumnID: c.ID, Column: c})
			continue
		}
		if strings.TrimSpace(next.Name) != strings.TrimSpace(c.Name) {
			renamed = append(renamed, ChangeRecord{
				Kind:     ChangeRenamed,
				ColumnID: c.ID,
				OldName:  strings.TrimSpace(c.Name),
				NewName:  strings.TrimSpace(next.Name),
			})
		}
	}
	for _, c := range candidate.columns {
		if c.ID == "" || !inOld[c.ID] {
			added = append(added, ChangeRecord{Kind: ChangeAdded, ColumnID: c.ID, Column: c})
		}
	}

	out := make([]ChangeRecord, 0, len(removed)+len(renamed)+len(added))
	out = append(out, removed...)
	out = append(out, renamed...)
	out = append(out, added...)
	return out
}

// Removed extracts the removed columns from a change list, preserving order.
func Removed(changes []ChangeRecord) []Column {
	var out []Column
	for _, ch := range changes {
		if ch.Kind == ChangeRemoved {
			out = append(out, ch.Column)
		}
	}
	return out
}
