package server

import (
	"encoding/json"

	"boardline/internal/columns"
	"boardline/internal/domain"
	"boardline/internal/engine"
)

// Request payloads

type ColumnRequest struct {
	ID       *string `json:"id,omitempty"`
	Name     string  `json:"name"`
	WIPLimit *int    `json:"wip_limit,omitempty"`
	Color    string  `json:"color,omitempty"`
}

type CreateTemplateRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	IsDefault   bool            `json:"is_default,omitempty"`
	Columns     []ColumnRequest `json:"columns"`
}

type UpdateTemplateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsDefault   *bool   `json:"is_default,omitempty"`
}

type PreviewColumnsRequest struct {
	Columns []ColumnRequest `json:"columns"`
}

type ApplyColumnsRequest struct {
	Columns []ColumnRequest   `json:"columns"`
	Mapping map[string]string `json:"migration_mapping,omitempty"`
}

type CreateIssueRequest struct {
	TemplateID string  `json:"template_id"`
	ColumnID   *string `json:"column_id,omitempty"`
	Title      string  `json:"title"`
}

type MoveIssueRequest struct {
	ColumnID string `json:"column_id"`
}

// Response payloads

type ColumnResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	WIPLimit *int   `json:"wip_limit,omitempty"`
	Color    string `json:"color,omitempty"`
}

type TemplateResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	IsDefault   bool             `json:"is_default"`
	IsSystem    bool             `json:"is_system"`
	Columns     []ColumnResponse `json:"columns"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

type ChangeResponse struct {
	Kind     string `json:"kind" enum:"removed,renamed,added"`
	ColumnID string `json:"column_id"`
	Name     string `json:"name"`
	OldName  string `json:"old_name,omitempty"`
	NewName  string `json:"new_name,omitempty"`
}

type WarningResponse struct {
	ColumnID         string           `json:"column_id"`
	ColumnName       string           `json:"column_name"`
	IssueCount       int              `json:"issue_count"`
	SuggestedTargets []ColumnResponse `json:"suggested_targets"`
}

type PreviewResponse struct {
	TemplateID   string            `json:"template_id"`
	TemplateName string            `json:"template_name"`
	Candidate    []ColumnResponse  `json:"candidate_columns"`
	Changes      []ChangeResponse  `json:"changes"`
	Warnings     []WarningResponse `json:"warnings"`
	SafeToApply  bool              `json:"safe_to_apply"`
}

type ApplyResponse struct {
	Template         TemplateResponse `json:"template"`
	ColumnsChanged   int              `json:"columns_changed"`
	IssuesReassigned int              `json:"issues_reassigned"`
	Summary          string           `json:"summary"`
}

type IssueResponse struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	ColumnID   string `json:"column_id"`
	Title      string `json:"title"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type IssueCountsResponse struct {
	TemplateID string         `json:"template_id"`
	Counts     map[string]int `json:"counts"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Mappers

func requestColumns(reqs []ColumnRequest) []columns.Column {
	out := make([]columns.Column, len(reqs))
	for i, r := range reqs {
		c := columns.Column{Name: r.Name, WIPLimit: r.WIPLimit, Color: r.Color}
		if r.ID != nil {
			c.ID = *r.ID
		}
		out[i] = c
	}
	return out
}

func columnResponse(c columns.Column) ColumnResponse {
	return ColumnResponse{ID: c.ID, Name: c.Name, Position: c.Position, WIPLimit: c.WIPLimit, Color: c.Color}
}

func mapColumns(cols []columns.Column) []ColumnResponse {
	out := make([]ColumnResponse, len(cols))
	for i, c := range cols {
		out[i] = columnResponse(c)
	}
	return out
}

func templateResponse(t domain.Template) TemplateResponse {
	return TemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		IsDefault:   t.IsDefault,
		IsSystem:    t.IsSystem,
		Columns:     mapColumns(t.Columns),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTemplates(items []domain.Template) []TemplateResponse {
	out := make([]TemplateResponse, len(items))
	for i, t := range items {
		out[i] = templateResponse(t)
	}
	return out
}

func changeResponse(c columns.ChangeRecord) ChangeResponse {
	return ChangeResponse{
		Kind:     string(c.Kind),
		ColumnID: c.ColumnID,
		Name:     c.Column.Name,
		OldName:  c.OldName,
		NewName:  c.NewName,
	}
}

func previewResponse(p engine.MigrationPreview) PreviewResponse {
	changes := make([]ChangeResponse, len(p.Changes))
	for i, c := range p.Changes {
		changes[i] = changeResponse(c)
	}
	warnings := make([]WarningResponse, len(p.Warnings))
	for i, w := range p.Warnings {
		warnings[i] = WarningResponse{
			ColumnID:         w.ColumnID,
			ColumnName:       w.ColumnName,
			IssueCount:       w.IssueCount,
			SuggestedTargets: mapColumns(w.SuggestedTargets),
		}
	}
	return PreviewResponse{
		TemplateID:   p.TemplateID,
		TemplateName: p.TemplateName,
		Candidate:    mapColumns(p.Candidate),
		Changes:      changes,
		Warnings:     warnings,
		SafeToApply:  p.SafeToApply,
	}
}

func issueResponse(i domain.Issue) IssueResponse {
	return IssueResponse{
		ID:         i.ID,
		TemplateID: i.TemplateID,
		ColumnID:   i.ColumnID,
		Title:      i.Title,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

func mapIssues(items []domain.Issue) []IssueResponse {
	out := make([]IssueResponse, len(items))
	for i, it := range items {
		out[i] = issueResponse(it)
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
