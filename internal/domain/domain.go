package domain

import "boardline/internal/columns"

// Template is a named, ordered set of kanban columns reusable across
// projects. Columns are the committed set; drafts never touch the store.
type Template struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	IsDefault   bool             `json:"is_default"`
	IsSystem    bool             `json:"is_system"`
	Columns     []columns.Column `json:"columns"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

// Issue is the minimal issue record this service keeps: enough to make the
// issue store real. An issue references exactly one column of its template.
type Issue struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	ColumnID   string `json:"column_id"`
	Title      string `json:"title"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
