package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boardline/internal/columns"
	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func makeTemplate(t *testing.T, env testEnv, names ...string) domain.Template {
	t.Helper()
	cols := make([]columns.Column, len(names))
	for i, n := range names {
		cols[i] = columns.Column{Name: n}
	}
	tpl, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		Name:    "Board",
		Columns: cols,
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func TestCreateTemplateAssignsColumnIdentity(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "To Do", "Doing", "Done")
	if len(tpl.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(tpl.Columns))
	}
	for i, c := range tpl.Columns {
		if c.ID == "" {
			t.Fatalf("column %d has no id", i)
		}
		if c.Position != i {
			t.Fatalf("column %d position = %d", i, c.Position)
		}
	}
	got, err := env.Engine.GetTemplate(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if len(got.Columns) != 3 || got.Columns[0].Name != "To Do" {
		t.Fatalf("round-trip mismatch: %+v", got.Columns)
	}
}

func TestCreateTemplateRejectsInvalidColumns(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		Name:    "Bad",
		Columns: []columns.Column{{Name: "QA"}, {Name: "qa "}},
		ActorID: "tester",
	})
	var verr *columns.ValidationError
	if !errors.As(err, &verr) || verr.Code != columns.CodeDuplicateColumnName {
		t.Fatalf("expected duplicate_column_name, got %v", err)
	}
}

func TestSeedDefaultTemplates(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.SeedDefaultTemplates(env.Ctx, "system")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 seeded templates, got %d", len(created))
	}
	defaults := 0
	for _, tpl := range created {
		if !tpl.IsSystem {
			t.Fatalf("seeded template %q not marked system", tpl.Name)
		}
		if tpl.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}
	// second seed is a no-op
	again, err := env.Engine.SeedDefaultTemplates(env.Ctx, "system")
	if err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	if again != nil {
		t.Fatalf("expected no-op re-seed, got %d templates", len(again))
	}
}

func TestUpdateTemplateRefusesSystem(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.SeedDefaultTemplates(env.Ctx, "system")
	if err != nil {
		t.Fatal(err)
	}
	name := "renamed"
	_, err = env.Engine.UpdateTemplate(env.Ctx, engine.TemplateUpdateOptions{ID: created[0].ID, Name: &name, ActorID: "tester"})
	if !errors.Is(err, engine.ErrSystemTemplate) {
		t.Fatalf("expected ErrSystemTemplate, got %v", err)
	}
}

func TestDefaultFlagIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		Name: "A", IsDefault: true, Columns: []columns.Column{{Name: "Open"}}, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		Name: "B", IsDefault: true, Columns: []columns.Column{{Name: "Open"}}, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetTemplate(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsDefault {
		t.Fatalf("template A should have lost the default flag")
	}
	got, _ = env.Engine.GetTemplate(env.Ctx, b.ID)
	if !got.IsDefault {
		t.Fatalf("template B should be default")
	}
}

func TestDeleteTemplateRefusedWhileIssuesExist(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "Open", "Closed")
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{TemplateID: tpl.ID, Title: "bug", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTemplate(env.Ctx, tpl.ID, "tester"); err == nil {
		t.Fatalf("expected delete to be refused")
	}
}

func TestPreviewAssignsIdsAndResolvesImpact(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "To Do", "Doing", "Done")
	doing := tpl.Columns[1]
	for range 3 {
		if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
			TemplateID: tpl.ID, ColumnID: doing.ID, Title: "work", ActorID: "tester",
		}); err != nil {
			t.Fatal(err)
		}
	}
	draft := []columns.Column{
		tpl.Columns[0],
		{Name: "Review"},
		tpl.Columns[2],
	}
	preview, err := env.Engine.PreviewColumnChanges(env.Ctx, tpl.ID, draft)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.SafeToApply {
		t.Fatalf("removing a non-empty column should not be safe to apply")
	}
	if len(preview.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(preview.Warnings))
	}
	w := preview.Warnings[0]
	if w.ColumnID != doing.ID || w.IssueCount != 3 {
		t.Fatalf("unexpected warning: %+v", w)
	}
	if len(w.SuggestedTargets) != 3 {
		t.Fatalf("expected all candidate columns as targets, got %d", len(w.SuggestedTargets))
	}
	// the added column got an id the operator can use as a target
	var review columns.Column
	for _, c := range preview.Candidate {
		if c.Name == "Review" {
			review = c
		}
	}
	if review.ID == "" {
		t.Fatalf("added column did not receive an id in preview")
	}
}

func TestPreviewIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "Open", "Closed")
	if _, err := env.Engine.PreviewColumnChanges(env.Ctx, tpl.ID, []columns.Column{{Name: "Only"}}); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetTemplate(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Columns) != 2 || got.Columns[0].Name != "Open" {
		t.Fatalf("preview mutated committed columns: %+v", got.Columns)
	}
}

func TestApplyColumnChangesMigratesIssues(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "To Do", "Doing", "Done")
	doing := tpl.Columns[1]
	done := tpl.Columns[2]
	for range 2 {
		if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
			TemplateID: tpl.ID, ColumnID: doing.ID, Title: "work", ActorID: "tester",
		}); err != nil {
			t.Fatal(err)
		}
	}
	res, vr, err := env.Engine.ApplyColumnChanges(env.Ctx, engine.ApplyOptions{
		TemplateID: tpl.ID,
		Columns:    []columns.Column{tpl.Columns[0], done},
		Mapping:    map[string]string{doing.ID: done.ID},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !vr.OK || vr.SafeToApply {
		t.Fatalf("unexpected validation result: %+v", vr)
	}
	if res.IssuesReassigned != 2 {
		t.Fatalf("expected 2 reassigned issues, got %d", res.IssuesReassigned)
	}
	counts, err := env.Engine.ColumnIssueCounts(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[done.ID] != 2 {
		t.Fatalf("issues not moved to Done: %v", counts)
	}
	got, _ := env.Engine.GetTemplate(env.Ctx, tpl.ID)
	if len(got.Columns) != 2 {
		t.Fatalf("column set not committed: %+v", got.Columns)
	}
}

func TestApplyRejectsMissingMapping(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "To Do", "Done")
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{TemplateID: tpl.ID, Title: "bug", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	_, vr, err := env.Engine.ApplyColumnChanges(env.Ctx, engine.ApplyOptions{
		TemplateID: tpl.ID,
		Columns:    []columns.Column{tpl.Columns[1]},
		ActorID:    "tester",
	})
	var perr *columns.MigrationPlanError
	if !errors.As(err, &perr) || perr.Code != columns.CodeMissingMigrationTarget {
		t.Fatalf("expected missing_migration_target, got %v", err)
	}
	if vr.OK {
		t.Fatalf("validation should have failed: %+v", vr)
	}
	// nothing changed
	got, _ := env.Engine.GetTemplate(env.Ctx, tpl.ID)
	if len(got.Columns) != 2 {
		t.Fatalf("rejected apply mutated columns: %+v", got.Columns)
	}
}

func TestApplyRollsBackAtomically(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "To Do", "Doing", "Done")
	doing := tpl.Columns[1]
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, ColumnID: doing.ID, Title: "work", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	// target is not part of the candidate set: validator rejects, nothing moves
	_, _, err := env.Engine.ApplyColumnChanges(env.Ctx, engine.ApplyOptions{
		TemplateID: tpl.ID,
		Columns:    []columns.Column{tpl.Columns[0], tpl.Columns[2]},
		Mapping:    map[string]string{doing.ID: "no-such-column"},
		ActorID:    "tester",
	})
	var perr *columns.MigrationPlanError
	if !errors.As(err, &perr) || perr.Code != columns.CodeInvalidMigrationTarget {
		t.Fatalf("expected invalid_migration_target, got %v", err)
	}
	counts, err := env.Engine.ColumnIssueCounts(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[doing.ID] != 1 {
		t.Fatalf("issue moved despite failed apply: %v", counts)
	}
}

func TestApplyIsIdempotentOnRetry(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "To Do", "Doing", "Done")
	doing := tpl.Columns[1]
	done := tpl.Columns[2]
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, ColumnID: doing.ID, Title: "work", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	opts := engine.ApplyOptions{
		TemplateID: tpl.ID,
		Columns:    []columns.Column{tpl.Columns[0], done},
		Mapping:    map[string]string{doing.ID: done.ID},
		ActorID:    "tester",
	}
	if _, _, err := env.Engine.ApplyColumnChanges(env.Ctx, opts); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	res, _, err := env.Engine.ApplyColumnChanges(env.Ctx, opts)
	if err != nil {
		t.Fatalf("retry apply: %v", err)
	}
	if res.IssuesReassigned != 0 || res.ColumnsChanged != 0 {
		t.Fatalf("retry should be a no-op, got %+v", res)
	}
}

func TestApplyRefusesSystemTemplate(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.SeedDefaultTemplates(env.Ctx, "system")
	if err != nil {
		t.Fatal(err)
	}
	tpl := created[0]
	_, _, err = env.Engine.ApplyColumnChanges(env.Ctx, engine.ApplyOptions{
		TemplateID: tpl.ID,
		Columns:    tpl.Columns[:1],
		ActorID:    "tester",
	})
	if !errors.Is(err, engine.ErrSystemTemplate) {
		t.Fatalf("expected ErrSystemTemplate, got %v", err)
	}
}

func TestIssueLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "To Do", "Doing", "Done")
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Title: "  Fix login  ", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	if issue.ColumnID != tpl.Columns[0].ID {
		t.Fatalf("issue should land in first column, got %s", issue.ColumnID)
	}
	if issue.Title != "Fix login" {
		t.Fatalf("title not trimmed: %q", issue.Title)
	}
	moved, err := env.Engine.MoveIssue(env.Ctx, issue.ID, tpl.Columns[2].ID, "tester")
	if err != nil {
		t.Fatalf("move issue: %v", err)
	}
	if moved.ColumnID != tpl.Columns[2].ID {
		t.Fatalf("issue not moved: %+v", moved)
	}
	// moving to a foreign column is refused
	if _, err := env.Engine.MoveIssue(env.Ctx, issue.ID, "nope", "tester"); err == nil {
		t.Fatalf("expected move to unknown column to fail")
	}
	list, err := env.Engine.ListIssues(env.Ctx, tpl.ID, tpl.Columns[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != issue.ID {
		t.Fatalf("unexpected issue list: %+v", list)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	tpl := makeTemplate(t, env, "Open", "Closed")
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{TemplateID: tpl.ID, Title: "bug", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "", "")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	byType, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "template.created", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].EntityID != tpl.ID {
		t.Fatalf("event filter mismatch: %+v", byType)
	}
}
