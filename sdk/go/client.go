package boardlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Boardline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Column represents one column of a template's column set.
type Column struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	WIPLimit *int   `json:"wip_limit,omitempty"`
	Color    string `json:"color,omitempty"`
}

// ColumnDraft is a column as submitted to preview or apply. Leave ID empty
// for a new column; the preview response echoes back the assigned id.
type ColumnDraft struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	WIPLimit *int   `json:"wip_limit,omitempty"`
	Color    string `json:"color,omitempty"`
}

// Template represents a workflow template.
type Template struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	IsDefault   bool     `json:"is_default"`
	IsSystem    bool     `json:"is_system"`
	Columns     []Column `json:"columns"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// Change is one entry of a preview diff.
type Change struct {
	Kind     string `json:"kind"`
	ColumnID string `json:"column_id"`
	Name     string `json:"name"`
	OldName  string `json:"old_name,omitempty"`
	NewName  string `json:"new_name,omitempty"`
}

// Warning flags a removed column whose issues need a migration target.
type Warning struct {
	ColumnID         string   `json:"column_id"`
	ColumnName       string   `json:"column_name"`
	IssueCount       int      `json:"issue_count"`
	SuggestedTargets []Column `json:"suggested_targets"`
}

// Preview is the response to a column-change preview.
type Preview struct {
	TemplateID   string    `json:"template_id"`
	TemplateName string    `json:"template_name"`
	Candidate    []Column  `json:"candidate_columns"`
	Changes      []Change  `json:"changes"`
	Warnings     []Warning `json:"warnings"`
	SafeToApply  bool      `json:"safe_to_apply"`
}

// ApplyResult is the response to a committed column change.
type ApplyResult struct {
	Template         Template `json:"template"`
	ColumnsChanged   int      `json:"columns_changed"`
	IssuesReassigned int      `json:"issues_reassigned"`
	Summary          string   `json:"summary"`
}

// Issue represents an issue on a board.
type Issue struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	ColumnID   string `json:"column_id"`
	Title      string `json:"title"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTemplate creates a workflow template.
func (c *Client) CreateTemplate(ctx context.Context, name, description string, isDefault bool, cols []ColumnDraft) (Template, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"is_default":  isDefault,
		"columns":     cols,
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "v0/workflow-templates", body, &resp)
	return resp, err
}

// ListTemplates lists templates, optionally including system templates.
func (c *Client) ListTemplates(ctx context.Context, includeSystem bool) ([]Template, error) {
	endpoint := "v0/workflow-templates"
	if includeSystem {
		endpoint += "?include_system=true"
	}
	var resp []Template
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTemplate fetches one template with its columns.
func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, "v0/workflow-templates/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DeleteTemplate deletes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/workflow-templates/"+url.PathEscape(id), nil, nil)
}

// PreviewColumns previews a column change without committing anything.
func (c *Client) PreviewColumns(ctx context.Context, templateID string, cols []ColumnDraft) (Preview, error) {
	body := map[string]any{"columns": cols}
	var resp Preview
	err := c.do(ctx, http.MethodPost, "v0/workflow-templates/"+url.PathEscape(templateID)+"/columns/preview", body, &resp)
	return resp, err
}

// ApplyColumns commits a column change. mapping routes issues away from
// removed columns: removed column id -> target column id.
func (c *Client) ApplyColumns(ctx context.Context, templateID string, cols []ColumnDraft, mapping map[string]string) (ApplyResult, error) {
	body := map[string]any{
		"columns":           cols,
		"migration_mapping": mapping,
	}
	var resp ApplyResult
	err := c.do(ctx, http.MethodPut, "v0/workflow-templates/"+url.PathEscape(templateID)+"/columns", body, &resp)
	return resp, err
}

// ColumnIssueCounts reports issue counts per column id.
func (c *Client) ColumnIssueCounts(ctx context.Context, templateID string) (map[string]int, error) {
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "v0/workflow-templates/"+url.PathEscape(templateID)+"/issue-counts", nil, &resp)
	return resp.Counts, err
}

// CreateIssue creates an issue. columnID may be empty for the first column.
func (c *Client) CreateIssue(ctx context.Context, templateID, columnID, title string) (Issue, error) {
	body := map[string]any{
		"template_id": templateID,
		"title":       title,
	}
	if columnID != "" {
		body["column_id"] = columnID
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "v0/issues", body, &resp)
	return resp, err
}

// ListIssues lists issues of a template, optionally filtered by column.
func (c *Client) ListIssues(ctx context.Context, templateID, columnID string) ([]Issue, error) {
	endpoint := "v0/issues?template_id=" + url.QueryEscape(templateID)
	if columnID != "" {
		endpoint += "&column_id=" + url.QueryEscape(columnID)
	}
	var resp []Issue
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MoveIssue moves an issue to another column.
func (c *Client) MoveIssue(ctx context.Context, issueID, columnID string) (Issue, error) {
	body := map[string]any{"column_id": columnID}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "v0/issues/"+url.PathEscape(issueID)+"/move", body, &resp)
	return resp, err
}

// Events fetches recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/events?limit=%d", limit)
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
