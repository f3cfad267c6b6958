package columns

import (
	"fmt"
	"strings"
)

// ValidationResult is the verdict on a migration plan. It is a value, not
// an error: the UI re-validates after every fix and renders incremental
// feedback, so failures are reported rather than thrown.
type ValidationResult struct {
	// OK reports whether the plan may be applied.
	OK bool `json:"ok"`
	// SafeToApply is true iff no migration was needed at all (zero
	// warnings). Reported even when OK, to distinguish "validated
	// migration" from "no migration needed".
	SafeToApply bool `json:"safe_to_apply"`
	// Summary is a human-readable account of the verdict, naming the
	// offending column on failure.
	Summary string `json:"summary"`
	// Failure is nil when OK.
	Failure *MigrationPlanError `json:"-"`
}

// Validate checks a caller-supplied migration mapping against the plan.
// Rules run in order and the first failure wins; surfacing one failure at a
// time is sufficient because callers re-validate after each fix:
//
//  1. every warned column has a mapping entry,
//  2. every mapping target exists in the candidate set,
//  3. no target is itself being removed,
//  4. the candidate set satisfies the column-set invariants.
func Validate(candidate ColumnSet, changes []ChangeRecord, warnings []MigrationWarning, mapping map[string]string) ValidationResult {
	removed := make(map[string]Column)
	for _, c := range Removed(changes) {
		removed[c.ID] = c
	}

	for _, w := range warnings {
		if _, ok := mapping[w.ColumnID]; !ok {
			return failed(&MigrationPlanError{Code: CodeMissingMigrationTarget, ColumnID: w.ColumnID, ColumnName: w.ColumnName})
		}
	}
	for _, w := range warnings {
		target := mapping[w.ColumnID]
		if _, ok := candidate.ByID(target); !ok {
			return failed(&MigrationPlanError{Code: CodeInvalidMigrationTarget, ColumnID: target, ColumnName: w.ColumnName})
		}
	}
	for _, w := range warnings {
		if rc, ok := removed[mapping[w.ColumnID]]; ok {
			return failed(&MigrationPlanError{Code: CodeTargetIsBeingRemoved, ColumnID: rc.ID, ColumnName: rc.Name})
		}
	}
	if _, err := NewColumnSet(candidate.Columns()); err != nil {
		return ValidationResult{Summary: err.Error()}
	}

	res := ValidationResult{OK: true, SafeToApply: len(warnings) == 0}
	res.Summary = okSummary(changes, warnings)
	return res
}

func failed(err *MigrationPlanError) ValidationResult {
	return ValidationResult{Failure: err, Summary: err.Error()}
}

func okSummary(changes []ChangeRecord, warnings []MigrationWarning) string {
	if len(changes) == 0 {
		return "no structural changes"
	}
	var added, removed, renamed int
	for _, ch := range changes {
		switch ch.Kind {
		case ChangeAdded:
			added++
		case ChangeRemoved:
			removed++
		case ChangeRenamed:
			renamed++
		}
	}
	parts := []string{fmt.Sprintf("%d added, %d removed, %d renamed", added, removed, renamed)}
	if len(warnings) == 0 {
		parts = append(parts, "no issues need migration")
	} else {
		total := 0
		for _, w := range warnings {
			total += w.IssueCount
		}
		parts = append(parts, fmt.Sprintf("%d issue(s) across %d column(s) will be reassigned", total, len(warnings)))
	}
	return strings.Join(parts, "; ")
}
