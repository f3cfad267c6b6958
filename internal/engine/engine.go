package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"boardline/internal/columns"
	"boardline/internal/config"
	"boardline/internal/domain"
	"boardline/internal/events"
	"boardline/internal/repo"
)

// Engine is the transactional business layer over the store. Everything
// that mutates state runs inside a single BeginTx/Commit unit of work with
// an event appended alongside.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

var ErrSystemTemplate = errors.New("system templates cannot be modified")

// TemplateCreateOptions are parameters for creating a workflow template.
type TemplateCreateOptions struct {
	Name        string
	Description string
	IsDefault   bool
	IsSystem    bool
	Columns     []columns.Column
	ActorID     string
}

// CreateTemplate creates a template with its committed column set. New
// columns receive their permanent identity here.
func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Template{}, errors.New("template name is required")
	}
	set, err := columns.NewColumnSet(assignColumnIDs(opts.Columns))
	if err != nil {
		return domain.Template{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Template{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(opts.Name),
		Description: opts.Description,
		IsDefault:   opts.IsDefault,
		IsSystem:    opts.IsSystem,
		Columns:     set.Columns(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	if t.IsDefault {
		if err := e.Repo.UnsetDefaultTemplatesTx(ctx, tx, now); err != nil {
			return domain.Template{}, err
		}
	}
	if err := e.Repo.InsertTemplateTx(ctx, tx, t); err != nil {
		return domain.Template{}, err
	}
	if err := e.Events.Append(ctx, tx, "template.created", "template", t.ID, opts.ActorID, events.EventPayload{
		"name":    t.Name,
		"columns": set.Names(),
	}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// SeedDefaultTemplates creates the configured system templates in a fresh
// workspace. A workspace already holding templates is left alone.
func (e Engine) SeedDefaultTemplates(ctx context.Context, actorID string) ([]domain.Template, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	n, err := e.Repo.CountTemplates(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}
	var created []domain.Template
	for _, seed := range e.Config.Templates.Seed {
		set, err := seed.ColumnSet()
		if err != nil {
			return nil, fmt.Errorf("seed template %q: %w", seed.Name, err)
		}
		t, err := e.CreateTemplate(ctx, TemplateCreateOptions{
			Name:        seed.Name,
			Description: seed.Description,
			IsDefault:   seed.Default,
			IsSystem:    true,
			Columns:     set.Columns(),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, t)
	}
	return created, nil
}

func (e Engine) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return e.Repo.GetTemplate(ctx, id)
}

func (e Engine) ListTemplates(ctx context.Context, includeSystem bool) ([]domain.Template, error) {
	return e.Repo.ListTemplates(ctx, includeSystem)
}

// TemplateUpdateOptions encapsulates allowed metadata updates. Column
// changes go through PreviewColumnChanges/ApplyColumnChanges only.
type TemplateUpdateOptions struct {
	ID          string
	Name        *string
	Description *string
	IsDefault   *bool
	ActorID     string
}

func (e Engine) UpdateTemplate(ctx context.Context, opts TemplateUpdateOptions) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	if t.IsSystem {
		return t, ErrSystemTemplate
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if opts.IsDefault != nil && *opts.IsDefault && !t.IsDefault {
		if err := e.Repo.UnsetDefaultTemplatesTx(ctx, tx, now); err != nil {
			return t, err
		}
	}
	if err := e.Repo.UpdateTemplateMetaTx(ctx, tx, opts.ID, opts.Name, opts.Description, opts.IsDefault, now); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "template.updated", "template", opts.ID, opts.ActorID, events.EventPayload{}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTemplate(ctx, opts.ID)
}

// DeleteTemplate removes a template. System templates and templates whose
// columns still hold issues are refused; migrate the issues first.
func (e Engine) DeleteTemplate(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if t.IsSystem {
		return errors.New("system templates cannot be deleted")
	}
	n, err := e.Repo.CountIssuesForTemplate(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("cannot delete template %q: %d issue(s) still reference its columns", t.Name, n)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTemplateTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "template.deleted", "template", id, actorID, events.EventPayload{"name": t.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationPreview is what the operator sees before deciding on a column
// change: the candidate set (new columns carry their freshly assigned
// identity), the structural diff and the migration warnings.
type MigrationPreview struct {
	TemplateID   string                     `json:"template_id"`
	TemplateName string                     `json:"template_name"`
	Candidate    []columns.Column           `json:"candidate_columns"`
	Changes      []columns.ChangeRecord     `json:"changes"`
	Warnings     []columns.MigrationWarning `json:"warnings"`
	SafeToApply  bool                       `json:"safe_to_apply"`
}

// PreviewColumnChanges diffs a draft column set against the committed one
// and resolves which removals need a migration target. Pure read: safe to
// call repeatedly while the operator edits the draft.
func (e Engine) PreviewColumnChanges(ctx context.Context, templateID string, draft []columns.Column) (MigrationPreview, error) {
	t, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return MigrationPreview{}, err
	}
	old, err := e.Repo.GetColumnSet(ctx, templateID)
	if err != nil {
		return MigrationPreview{}, err
	}
	candidate, err := columns.NewColumnSet(assignColumnIDs(draft))
	if err != nil {
		return MigrationPreview{}, err
	}
	changes := columns.Diff(old, candidate)
	counts, err := e.Repo.CountIssuesByColumn(ctx, templateID)
	if err != nil {
		return MigrationPreview{}, err
	}
	warnings := columns.ResolveImpact(columns.Removed(changes), counts, candidate)
	return MigrationPreview{
		TemplateID:   templateID,
		TemplateName: t.Name,
		Candidate:    candidate.Columns(),
		Changes:      changes,
		Warnings:     warnings,
		SafeToApply:  len(warnings) == 0,
	}, nil
}

// ApplyOptions carries a column-set change plus the operator's migration
// mapping (removed column id -> target column id).
type ApplyOptions struct {
	TemplateID string
	Columns    []columns.Column
	Mapping    map[string]string
	ActorID    string
}

// ApplyColumnChanges validates and commits a column-set change in one
// transaction: the diff and issue counts are taken inside the unit of work,
// the plan is gated by the validator, then the new set is committed and
// affected issues are reassigned. Any failure rolls everything back; a
// half-applied migration is never observable. Retrying with the same
// arguments is safe.
func (e Engine) ApplyColumnChanges(ctx context.Context, opts ApplyOptions) (columns.ApplyResult, columns.ValidationResult, error) {
	t, err := e.Repo.GetTemplate(ctx, opts.TemplateID)
	if err != nil {
		return columns.ApplyResult{}, columns.ValidationResult{}, err
	}
	if t.IsSystem {
		return columns.ApplyResult{}, columns.ValidationResult{}, ErrSystemTemplate
	}
	candidate, err := columns.NewColumnSet(assignColumnIDs(opts.Columns))
	if err != nil {
		return columns.ApplyResult{}, columns.ValidationResult{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return columns.ApplyResult{}, columns.ValidationResult{}, err
	}
	defer tx.Rollback()

	stores := txStores{r: e.Repo, tx: tx, now: now}
	old, err := stores.GetCommittedColumnSet(ctx, opts.TemplateID)
	if err != nil {
		return columns.ApplyResult{}, columns.ValidationResult{}, err
	}
	counts, err := stores.CountIssuesByColumn(ctx, opts.TemplateID)
	if err != nil {
		return columns.ApplyResult{}, columns.ValidationResult{}, err
	}
	changes := columns.Diff(old, candidate)
	warnings := columns.ResolveImpact(columns.Removed(changes), counts, candidate)
	plan := columns.MigrationPlan{Candidate: candidate, Changes: changes, Warnings: warnings, Mapping: opts.Mapping}
	res := plan.Validate()
	vp, err := plan.Validated()
	if err != nil {
		return columns.ApplyResult{}, res, err
	}
	applied, err := columns.Apply(ctx, opts.TemplateID, vp, stores, stores)
	if err != nil {
		return columns.ApplyResult{}, res, err
	}
	if err := e.Events.Append(ctx, tx, "template.columns.applied", "template", opts.TemplateID, opts.ActorID, events.EventPayload{
		"columns_changed":   applied.ColumnsChanged,
		"issues_reassigned": applied.IssuesReassigned,
		"safe_to_apply":     res.SafeToApply,
		"summary":           res.Summary,
	}); err != nil {
		return columns.ApplyResult{}, res, err
	}
	if err := tx.Commit(); err != nil {
		return columns.ApplyResult{}, res, &columns.ApplyError{Cause: err}
	}
	return applied, res, nil
}

// ColumnIssueCounts reports the live issue count per column of a template.
func (e Engine) ColumnIssueCounts(ctx context.Context, templateID string) (map[string]int, error) {
	if _, err := e.Repo.GetColumnSet(ctx, templateID); err != nil {
		return nil, err
	}
	return e.Repo.CountIssuesByColumn(ctx, templateID)
}

// IssueCreateOptions are parameters for creating an issue. ColumnID may be
// empty: the issue lands in the template's first column.
type IssueCreateOptions struct {
	TemplateID string
	ColumnID   string
	Title      string
	ActorID    string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Issue{}, errors.New("issue title is required")
	}
	set, err := e.Repo.GetColumnSet(ctx, opts.TemplateID)
	if err != nil {
		return domain.Issue{}, err
	}
	columnID := opts.ColumnID
	if columnID == "" {
		columnID = set.Columns()[0].ID
	} else if _, ok := set.ByID(columnID); !ok {
		return domain.Issue{}, fmt.Errorf("column %s is not part of template %s", columnID, opts.TemplateID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	i := domain.Issue{
		ID:         uuid.New().String(),
		TemplateID: opts.TemplateID,
		ColumnID:   columnID,
		Title:      strings.TrimSpace(opts.Title),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIssueTx(ctx, tx, i); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, "issue.created", "issue", i.ID, opts.ActorID, events.EventPayload{
		"title":     i.Title,
		"column_id": i.ColumnID,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return i, nil
}

// MoveIssue moves an issue to another column of its template.
func (e Engine) MoveIssue(ctx context.Context, issueID, columnID, actorID string) (domain.Issue, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return i, err
	}
	set, err := e.Repo.GetColumnSet(ctx, i.TemplateID)
	if err != nil {
		return i, err
	}
	target, ok := set.ByID(columnID)
	if !ok {
		return i, fmt.Errorf("column %s is not part of template %s", columnID, i.TemplateID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return i, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIssueColumnTx(ctx, tx, issueID, columnID, now); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, tx, "issue.moved", "issue", issueID, actorID, events.EventPayload{
		"from_column": i.ColumnID,
		"to_column":   target.ID,
	}); err != nil {
		return i, err
	}
	if err := tx.Commit(); err != nil {
		return i, err
	}
	i.ColumnID = columnID
	i.UpdatedAt = now
	return i, nil
}

func (e Engine) ListIssues(ctx context.Context, templateID, columnID string) ([]domain.Issue, error) {
	return e.Repo.ListIssues(ctx, templateID, columnID)
}

// assignColumnIDs gives permanent identity to draft columns that have none
// yet. Existing ids are left untouched so edits keep their identity.
func assignColumnIDs(cols []columns.Column) []columns.Column {
	out := make([]columns.Column, len(cols))
	for i, c := range cols {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		out[i] = c
	}
	return out
}
