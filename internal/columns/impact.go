package columns

// MigrationWarning flags a removed column that still holds issues and
// therefore needs an explicit migration target before the change can apply.
type MigrationWarning struct {
	ColumnID   string `json:"column_id"`
	ColumnName string `json:"column_name"`
	IssueCount int    `json:"issue_count"`
	// SuggestedTargets lists every column of the new set, in position
	// order. Columns are fungible lanes; the operator makes the domain
	// judgement of what a sensible destination is, not the engine.
	SuggestedTargets []Column `json:"suggested_targets"`
}

// ResolveImpact determines which removed columns are non-empty.
// issueCountByColumn must come from a single consistent read of the issue
// store; staleness between that read and apply is an accepted risk handled
// by the store transaction, not here. Removed columns with zero issues
// produce no warning and require no mapping.
func ResolveImpact(removed []Column, issueCountByColumn map[string]int, next ColumnSet) []MigrationWarning {
	var warnings []MigrationWarning
	for _, c := range removed {
		n := issueCountByColumn[c.ID]
		if n <= 0 {
			continue
		}
		warnings = append(warnings, MigrationWarning{
			ColumnID:         c.ID,
			ColumnName:       c.Name,
			IssueCount:       n,
			SuggestedTargets: next.Columns(),
		})
	}
	return warnings
}
