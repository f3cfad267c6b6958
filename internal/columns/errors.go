package columns

import (
	"fmt"
	"strings"
)

// ValidationCode identifies a malformed Column or ColumnSet. These are
// always caller-fixable and never retried automatically.
type ValidationCode string

const (
	CodeEmptyName             ValidationCode = "empty_name"
	CodeNameTooLong           ValidationCode = "name_too_long"
	CodeInvalidWIPLimit       ValidationCode = "invalid_wip_limit"
	CodeDuplicateColumnName   ValidationCode = "duplicate_column_name"
	CodeDuplicateColumnID     ValidationCode = "duplicate_column_id"
	CodeColumnCountOutOfRange ValidationCode = "column_count_out_of_range"
)

// ValidationError reports a malformed column or column set, naming the
// offending column(s) so the operator can fix the draft in place.
type ValidationError struct {
	Code  ValidationCode
	Names []string
	Count int
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeEmptyName:
		return "column name must not be empty"
	case CodeNameTooLong:
		return fmt.Sprintf("column name %q exceeds %d characters", first(e.Names), MaxNameLength)
	case CodeInvalidWIPLimit:
		return fmt.Sprintf("column %q has a WIP limit below 1", first(e.Names))
	case CodeDuplicateColumnName:
		return fmt.Sprintf("duplicate column names: %s", strings.Join(e.Names, ", "))
	case CodeDuplicateColumnID:
		return fmt.Sprintf("columns %s share one id", strings.Join(e.Names, ", "))
	case CodeColumnCountOutOfRange:
		return fmt.Sprintf("column set must have between %d and %d columns, got %d", MinColumns, MaxColumns, e.Count)
	default:
		return string(e.Code)
	}
}

// PlanCode identifies a missing or invalid migration mapping. These are
// surfaced to the human operator, who must supply more input; choosing a
// destination column is a judgement call the engine does not make.
type PlanCode string

const (
	CodeMissingMigrationTarget PlanCode = "missing_migration_target"
	CodeInvalidMigrationTarget PlanCode = "invalid_migration_target"
	CodeTargetIsBeingRemoved   PlanCode = "target_is_being_removed"
)

// MigrationPlanError reports why a migration mapping cannot be applied.
type MigrationPlanError struct {
	Code       PlanCode
	ColumnID   string
	ColumnName string
}

func (e *MigrationPlanError) Error() string {
	switch e.Code {
	case CodeMissingMigrationTarget:
		return fmt.Sprintf("column %q still holds issues; a migration target is required", e.ColumnName)
	case CodeInvalidMigrationTarget:
		return fmt.Sprintf("migration target %s for column %q is not in the new column set", e.ColumnID, e.ColumnName)
	case CodeTargetIsBeingRemoved:
		return fmt.Sprintf("migration target %q is itself being removed", e.ColumnName)
	default:
		return string(e.Code)
	}
}

// ApplyError wraps a store-level failure during commit. The unit of work is
// rolled back in full; retrying the same validated plan is safe.
type ApplyError struct {
	Cause error
}

func (e *ApplyError) Error() string { return fmt.Sprintf("apply column migration: %v", e.Cause) }
func (e *ApplyError) Unwrap() error { return e.Cause }

func first(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
