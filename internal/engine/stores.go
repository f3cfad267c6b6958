package engine

import (
	"context"
	"database/sql"

	"boardline/internal/columns"
	"boardline/internal/repo"
)

// txStores binds the column engine's store boundaries to one open
// transaction, so Apply's commit and reassignments share a single unit of
// work and roll back together.
type txStores struct {
	r   repo.Repo
	tx  *sql.Tx
	now string
}

var (
	_ columns.TemplateStore = txStores{}
	_ columns.IssueStore    = txStores{}
)

func (s txStores) GetCommittedColumnSet(ctx context.Context, templateID string) (columns.ColumnSet, error) {
	return s.r.GetColumnSetTx(ctx, s.tx, templateID)
}

func (s txStores) CommitColumnSet(ctx context.Context, templateID string, set columns.ColumnSet) error {
	return s.r.ReplaceColumnSetTx(ctx, s.tx, templateID, set, s.now)
}

func (s txStores) CountIssuesByColumn(ctx context.Context, templateID string) (map[string]int, error) {
	return s.r.CountIssuesByColumnTx(ctx, s.tx, templateID)
}

func (s txStores) ReassignIssues(ctx context.Context, oldColumnID, newColumnID string) (int, error) {
	return s.r.ReassignIssuesTx(ctx, s.tx, oldColumnID, newColumnID, s.now)
}
