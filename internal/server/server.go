package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"boardline/internal/columns"
	"boardline/internal/engine"
	"boardline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	ActorID  string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_migration_target"`
	Message string         `json:"message" example:"column \"Doing\" holds 3 issue(s) and has no migration target"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Boardline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are the client's fault.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Boardline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	actorID := cfg.ActorID
	if actorID == "" {
		actorID = "local-user"
	}
	registerDocs(router, basePath)
	registerHealth(group)
	registerTemplates(group, cfg.Engine, actorID)
	registerColumns(group, cfg.Engine, actorID)
	registerIssues(group, cfg.Engine, actorID)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine and domain errors onto the envelope. Malformed
// column sets are the client's fault (400); a structurally valid request
// whose migration plan fails validation is 422; only ApplyError, a failure
// of the store mid-commit, surfaces as 500.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var verr *columns.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, string(verr.Code), verr.Error(), nil)
	}
	var perr *columns.MigrationPlanError
	if errors.As(err, &perr) {
		details := map[string]any{}
		if perr.ColumnID != "" {
			details["column_id"] = perr.ColumnID
		}
		if perr.ColumnName != "" {
			details["column_name"] = perr.ColumnName
		}
		return newAPIError(http.StatusUnprocessableEntity, string(perr.Code), perr.Error(), details)
	}
	var aerr *columns.ApplyError
	if errors.As(err, &aerr) {
		return newAPIError(http.StatusInternalServerError, "apply_failed", "migration could not be applied", map[string]any{"error": err.Error()})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrSystemTemplate) {
		return newAPIError(http.StatusConflict, "system_template", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "cannot delete"), strings.Contains(lowered, "cannot be deleted"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "not part of"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Boardline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine, actorID string) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/workflow-templates",
		Summary:       "Create workflow template",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		t, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
			Name:        input.Body.Name,
			Description: desc,
			IsDefault:   input.Body.IsDefault,
			Columns:     requestColumns(input.Body.Columns),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/workflow-templates",
		Summary:     "List workflow templates",
	}, func(ctx context.Context, input *struct {
		IncludeSystem bool `query:"include_system"`
	}) (*struct {
		Body []TemplateResponse `json:"body"`
	}, error) {
		items, err := e.ListTemplates(ctx, input.IncludeSystem)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TemplateResponse `json:"body"`
		}{Body: mapTemplates(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/workflow-templates/{template_id}",
		Summary:     "Get workflow template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		t, err := e.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/workflow-templates/{template_id}",
		Summary:     "Update workflow template metadata",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                `path:"template_id"`
		Body       UpdateTemplateRequest `json:"body"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTemplate(ctx, engine.TemplateUpdateOptions{
			ID:          input.TemplateID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			IsDefault:   input.Body.IsDefault,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-template",
		Method:      http.MethodDelete,
		Path:        "/workflow-templates/{template_id}",
		Summary:     "Delete workflow template",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct{}, error) {
		if err := e.DeleteTemplate(ctx, input.TemplateID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerColumns(api huma.API, e engine.Engine, actorID string) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-columns",
		Method:      http.MethodPost,
		Path:        "/workflow-templates/{template_id}/columns/preview",
		Summary:     "Preview column changes",
		Description: "Diffs a draft column set against the committed one and reports which removed columns still hold issues. Read-only.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                `path:"template_id"`
		Body       PreviewColumnsRequest `json:"body"`
	}) (*struct {
		Body PreviewResponse `json:"body"`
	}, error) {
		preview, err := e.PreviewColumnChanges(ctx, input.TemplateID, requestColumns(input.Body.Columns))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreviewResponse `json:"body"`
		}{Body: previewResponse(preview)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-columns",
		Method:      http.MethodPut,
		Path:        "/workflow-templates/{template_id}/columns",
		Summary:     "Apply column changes",
		Description: "Validates the migration plan and commits the new column set atomically, reassigning issues from removed columns per the migration mapping.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string              `path:"template_id"`
		Body       ApplyColumnsRequest `json:"body"`
	}) (*struct {
		Body ApplyResponse `json:"body"`
	}, error) {
		res, vr, err := e.ApplyColumnChanges(ctx, engine.ApplyOptions{
			TemplateID: input.TemplateID,
			Columns:    requestColumns(input.Body.Columns),
			Mapping:    input.Body.Mapping,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplyResponse `json:"body"`
		}{Body: ApplyResponse{
			Template:         templateResponse(t),
			ColumnsChanged:   res.ColumnsChanged,
			IssuesReassigned: res.IssuesReassigned,
			Summary:          vr.Summary,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "column-issue-counts",
		Method:      http.MethodGet,
		Path:        "/workflow-templates/{template_id}/issue-counts",
		Summary:     "Issue counts per column",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body IssueCountsResponse `json:"body"`
	}, error) {
		counts, err := e.ColumnIssueCounts(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueCountsResponse `json:"body"`
		}{Body: IssueCountsResponse{TemplateID: input.TemplateID, Counts: counts}}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine, actorID string) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if input.Body.TemplateID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "template_id is required", nil)
		}
		columnID := ""
		if input.Body.ColumnID != nil {
			columnID = *input.Body.ColumnID
		}
		i, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
			TemplateID: input.Body.TemplateID,
			ColumnID:   columnID,
			Title:      input.Body.Title,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TemplateID string `query:"template_id"`
		ColumnID   string `query:"column_id"`
	}) (*struct {
		Body []IssueResponse `json:"body"`
	}, error) {
		if input.TemplateID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "template_id is required", nil)
		}
		items, err := e.ListIssues(ctx, input.TemplateID, input.ColumnID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IssueResponse `json:"body"`
		}{Body: mapIssues(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/move",
		Summary:     "Move issue to another column",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string           `path:"issue_id"`
		Body    MoveIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if input.Body.ColumnID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "column_id is required", nil)
		}
		i, err := e.MoveIssue(ctx, input.IssueID, input.Body.ColumnID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, len(items))
		for i, ev := range items {
			out[i] = eventResponse(ev)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
