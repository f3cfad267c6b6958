package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"boardline/internal/columns"
	"boardline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const columnFields = `id, name, position, wip_limit, color`

func (r Repo) InsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_templates(id,name,description,is_default,is_system,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.Description), boolInt(t.IsDefault), boolInt(t.IsSystem), t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	for _, c := range t.Columns {
		if err := insertColumn(ctx, tx, t.ID, c, t.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func insertColumn(ctx context.Context, tx *sql.Tx, templateID string, c columns.Column, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_columns(id,template_id,name,position,wip_limit,color,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, templateID, c.Name, c.Position, c.WIPLimit, nullable(c.Color), now, now)
	if err != nil {
		return fmt.Errorf("insert column %s: %w", c.Name, err)
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	var t domain.Template
	var desc sql.NullString
	var isDefault, isSystem int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,is_default,is_system,created_at,updated_at FROM workflow_templates WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &desc, &isDefault, &isSystem, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	t.IsDefault = isDefault != 0
	t.IsSystem = isSystem != 0
	t.Columns, err = r.listColumns(ctx, id)
	return t, err
}

func (r Repo) listColumns(ctx context.Context, templateID string) ([]columns.Column, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+columnFields+` FROM workflow_columns WHERE template_id=? ORDER BY position`, templateID)
	if err != nil {
		return nil, err
	}
	return scanColumns(rows)
}

// scanColumns drains rows selected with columnFields. Closes rows.
func scanColumns(rows *sql.Rows) ([]columns.Column, error) {
	defer rows.Close()
	var cols []columns.Column
	for rows.Next() {
		var c columns.Column
		var limit sql.NullInt64
		var color sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Position, &limit, &color); err != nil {
			return nil, err
		}
		if limit.Valid {
			v := int(limit.Int64)
			c.WIPLimit = &v
		}
		if color.Valid {
			c.Color = color.String
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// GetColumnSet loads the committed column set of a template.
func (r Repo) GetColumnSet(ctx context.Context, templateID string) (columns.ColumnSet, error) {
	if err := r.templateExists(ctx, templateID); err != nil {
		return columns.ColumnSet{}, err
	}
	cols, err := r.listColumns(ctx, templateID)
	if err != nil {
		return columns.ColumnSet{}, err
	}
	return columns.NewColumnSet(columns.SortByPosition(cols))
}

// GetColumnSetTx is GetColumnSet inside a transaction.
func (r Repo) GetColumnSetTx(ctx context.Context, tx *sql.Tx, templateID string) (columns.ColumnSet, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+columnFields+` FROM workflow_columns WHERE template_id=? ORDER BY position`, templateID)
	if err != nil {
		return columns.ColumnSet{}, err
	}
	cols, err := scanColumns(rows)
	if err != nil {
		return columns.ColumnSet{}, err
	}
	return columns.NewColumnSet(columns.SortByPosition(cols))
}

func (r Repo) templateExists(ctx context.Context, id string) error {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM workflow_templates WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

// ListTemplates returns all templates, default first then by name, the
// ordering the template picker renders.
func (r Repo) ListTemplates(ctx context.Context, includeSystem bool) ([]domain.Template, error) {
	q := `SELECT id FROM workflow_templates`
	if !includeSystem {
		q += ` WHERE is_system=0`
	}
	q += ` ORDER BY is_default DESC, name`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var res []domain.Template
	for _, id := range ids {
		t, err := r.GetTemplate(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// DefaultTemplate returns the template marked default, if any.
func (r Repo) DefaultTemplate(ctx context.Context) (domain.Template, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM workflow_templates WHERE is_default=1 LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Template{}, ErrNotFound
	}
	if err != nil {
		return domain.Template{}, err
	}
	return r.GetTemplate(ctx, id)
}

func (r Repo) CountTemplates(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_templates`).Scan(&n)
	return n, err
}

// UpdateTemplateMetaTx updates template metadata, not columns.
func (r Repo) UpdateTemplateMetaTx(ctx context.Context, tx *sql.Tx, id string, name, description *string, isDefault *bool, now string) error {
	fields := []string{"updated_at=?"}
	args := []any{now}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if isDefault != nil {
		fields = append(fields, "is_default=?")
		args = append(args, boolInt(*isDefault))
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE workflow_templates SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UnsetDefaultTemplatesTx(ctx context.Context, tx *sql.Tx, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE workflow_templates SET is_default=0, updated_at=? WHERE is_default=1`, now)
	return err
}

func (r Repo) DeleteTemplateTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM workflow_templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceColumnSetTx commits a new column set for a template: surviving
// columns are updated in place (identity preserved), removed ones deleted,
// new ones inserted. Issues must already have been reassigned away from the
// removed columns within the same transaction.
func (r Repo) ReplaceColumnSetTx(ctx context.Context, tx *sql.Tx, templateID string, set columns.ColumnSet, now string) error {
	cols := set.Columns()
	keep := make([]string, len(cols))
	args := []any{templateID}
	for i, c := range cols {
		keep[i] = "?"
		args = append(args, c.ID)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM workflow_columns WHERE template_id=? AND id NOT IN (%s)`, strings.Join(keep, ",")), args...); err != nil {
		return fmt.Errorf("delete removed columns: %w", err)
	}
	for _, c := range cols {
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_columns(id,template_id,name,position,wip_limit,color,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, position=excluded.position, wip_limit=excluded.wip_limit, color=excluded.color, updated_at=excluded.updated_at`,
			c.ID, templateID, c.Name, c.Position, c.WIPLimit, nullable(c.Color), now, now); err != nil {
			return fmt.Errorf("upsert column %s: %w", c.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE workflow_templates SET updated_at=? WHERE id=?`, now, templateID); err != nil {
		return fmt.Errorf("touch template: %w", err)
	}
	return nil
}

// LatestEvents returns the newest events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	q := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var conds []string
	var args []any
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, entityID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
