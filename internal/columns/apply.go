package columns

import (
	"context"
	"errors"
)

// IssueStore is the consumed boundary to wherever issues live. Both methods
// must observe the same unit of work as the TemplateStore during Apply.
type IssueStore interface {
	// CountIssuesByColumn returns a consistent snapshot of issue counts
	// per column id for one template.
	CountIssuesByColumn(ctx context.Context, templateID string) (map[string]int, error)
	// ReassignIssues moves every issue referencing oldColumnID to
	// newColumnID and returns the number reassigned.
	ReassignIssues(ctx context.Context, oldColumnID, newColumnID string) (int, error)
}

// TemplateStore is the consumed boundary to template persistence.
type TemplateStore interface {
	GetCommittedColumnSet(ctx context.Context, templateID string) (ColumnSet, error)
	CommitColumnSet(ctx context.Context, templateID string, set ColumnSet) error
}

// MigrationPlan bundles a candidate column set with its diff, the impact
// warnings and the operator-supplied mapping from each warned removed
// column to its chosen target. Plans are regenerated on every diff request.
type MigrationPlan struct {
	Candidate ColumnSet
	Changes   []ChangeRecord
	Warnings  []MigrationWarning
	Mapping   map[string]string
}

// SafeToApply is true iff the plan removes no non-empty column, so no
// operator decision is required.
func (p MigrationPlan) SafeToApply() bool { return len(p.Warnings) == 0 }

// Validate runs the plan validator over this plan.
func (p MigrationPlan) Validate() ValidationResult {
	return Validate(p.Candidate, p.Changes, p.Warnings, p.Mapping)
}

// ValidatedPlan is a MigrationPlan that has passed validation. It can only
// be obtained through Validated, so Apply cannot be handed an unchecked
// plan.
type ValidatedPlan struct {
	plan MigrationPlan
}

// Validated gates the plan behind the validator. The returned error is the
// validator's first failure (a *MigrationPlanError or *ValidationError).
func (p MigrationPlan) Validated() (ValidatedPlan, error) {
	res := p.Validate()
	if !res.OK {
		if res.Failure != nil {
			return ValidatedPlan{}, res.Failure
		}
		return ValidatedPlan{}, errors.New(res.Summary)
	}
	return ValidatedPlan{plan: p}, nil
}

// Plan returns the underlying plan.
func (v ValidatedPlan) Plan() MigrationPlan { return v.plan }

// ApplyResult reports what a committed migration touched.
type ApplyResult struct {
	ColumnsChanged   int `json:"columns_changed"`
	IssuesReassigned int `json:"issues_reassigned"`
}

// Apply commits the candidate column set and reassigns issues away from
// removed columns per the plan's mapping. The caller owns the unit of work:
// both stores must be bound to one transaction so that any failure rolls
// the whole migration back and partial application is never observable.
// Warned columns are reassigned in warning order, which keeps retries
// deterministic; a plan with no warnings never touches the issue store.
// Apply is idempotent against an unchanged store: reassigning an issue
// already at its target is a no-op.
func Apply(ctx context.Context, templateID string, v ValidatedPlan, templates TemplateStore, issues IssueStore) (ApplyResult, error) {
	p := v.plan
	res := ApplyResult{ColumnsChanged: len(p.Changes)}
	// Reassign before committing the set so a store with immediate
	// foreign keys never sees an issue pointing at a deleted column.
	for _, w := range p.Warnings {
		n, err := issues.ReassignIssues(ctx, w.ColumnID, p.Mapping[w.ColumnID])
		if err != nil {
			return ApplyResult{}, &ApplyError{Cause: err}
		}
		res.IssuesReassigned += n
	}
	if err := templates.CommitColumnSet(ctx, templateID, p.Candidate); err != nil {
		return ApplyResult{}, &ApplyError{Cause: err}
	}
	return res, nil
}
