package repo

import (
	"context"
	"database/sql"
	"strings"

	"boardline/internal/domain"
)

func (r Repo) InsertIssueTx(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(id,template_id,column_id,title,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		i.ID, i.TemplateID, i.ColumnID, i.Title, i.CreatedAt, i.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	var i domain.Issue
	err := r.DB.QueryRowContext(ctx, `SELECT id,template_id,column_id,title,created_at,updated_at FROM issues WHERE id=?`, id).
		Scan(&i.ID, &i.TemplateID, &i.ColumnID, &i.Title, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	return i, err
}

// ListIssues returns issues for a template, optionally restricted to one
// column, in creation order.
func (r Repo) ListIssues(ctx context.Context, templateID, columnID string) ([]domain.Issue, error) {
	q := `SELECT id,template_id,column_id,title,created_at,updated_at FROM issues WHERE template_id=?`
	args := []any{templateID}
	if columnID != "" {
		q += ` AND column_id=?`
		args = append(args, columnID)
	}
	q += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		var i domain.Issue
		if err := rows.Scan(&i.ID, &i.TemplateID, &i.ColumnID, &i.Title, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func (r Repo) UpdateIssueColumnTx(ctx context.Context, tx *sql.Tx, issueID, columnID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET column_id=?, updated_at=? WHERE id=?`, columnID, now, issueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountIssuesByColumn returns issue counts per column id for a template in
// one read, so a preview works from a single consistent snapshot.
func (r Repo) CountIssuesByColumn(ctx context.Context, templateID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT column_id, COUNT(*) FROM issues WHERE template_id=? GROUP BY column_id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// CountIssuesByColumnTx is CountIssuesByColumn inside a transaction.
func (r Repo) CountIssuesByColumnTx(ctx context.Context, tx *sql.Tx, templateID string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT column_id, COUNT(*) FROM issues WHERE template_id=? GROUP BY column_id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ReassignIssuesTx points every issue in oldColumnID at newColumnID and
// reports how many moved.
func (r Repo) ReassignIssuesTx(ctx context.Context, tx *sql.Tx, oldColumnID, newColumnID, now string) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET column_id=?, updated_at=? WHERE column_id=?`, newColumnID, now, oldColumnID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r Repo) CountIssuesForTemplate(ctx context.Context, templateID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE template_id=?`, templateID).Scan(&n)
	return n, err
}

// DeleteIssue removes an issue permanently.
func (r Repo) DeleteIssue(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM issues WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ColumnName resolves a column id to its display name within a template;
// used for operator-facing messages.
func (r Repo) ColumnName(ctx context.Context, templateID, columnID string) (string, error) {
	var name string
	err := r.DB.QueryRowContext(ctx, `SELECT name FROM workflow_columns WHERE template_id=? AND id=?`, templateID, columnID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return name, err
}

// ColumnByName resolves a display name (normalized comparison happens at
// the engine level; this is exact match after trim) to its column id.
func (r Repo) ColumnByName(ctx context.Context, templateID, name string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM workflow_columns WHERE template_id=? AND name=?`, templateID, strings.TrimSpace(name)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}
