package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/engine"
	"boardline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", ActorID: "tester"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createBoard(t *testing.T, srv *testServer, names ...string) TemplateResponse {
	t.Helper()
	cols := make([]map[string]any, len(names))
	for i, n := range names {
		cols[i] = map[string]any{"name": n}
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/workflow-templates", map[string]any{
		"name":    "Board",
		"columns": cols,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template: %d %s", res.StatusCode, string(data))
	}
	var tpl TemplateResponse
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	return tpl
}

func TestPreviewAndApplyFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	tpl := createBoard(t, srv, "To Do", "Doing", "Done")
	doing := tpl.Columns[1]
	done := tpl.Columns[2]

	for range 2 {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
			"template_id": tpl.ID,
			"column_id":   doing.ID,
			"title":       "work",
		})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create issue: %d %s", res.StatusCode, string(data))
		}
	}

	draft := []map[string]any{
		{"id": tpl.Columns[0].ID, "name": "To Do"},
		{"id": done.ID, "name": "Done"},
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflow-templates/"+tpl.ID+"/columns/preview", map[string]any{
		"columns": draft,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview: %d %s", res.StatusCode, string(data))
	}
	var preview PreviewResponse
	if err := json.Unmarshal(data, &preview); err != nil {
		t.Fatalf("unmarshal preview: %v", err)
	}
	if preview.SafeToApply {
		t.Fatalf("expected unsafe preview: %s", string(data))
	}
	if len(preview.Warnings) != 1 || preview.Warnings[0].IssueCount != 2 {
		t.Fatalf("unexpected warnings: %+v", preview.Warnings)
	}

	// apply without a mapping is rejected with the plan error code
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/workflow-templates/"+tpl.ID+"/columns", map[string]any{
		"columns": draft,
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "missing_migration_target" {
		t.Fatalf("expected missing_migration_target, got %s", string(data))
	}

	// apply with the mapping succeeds and reports the reassignments
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/workflow-templates/"+tpl.ID+"/columns", map[string]any{
		"columns":           draft,
		"migration_mapping": map[string]string{doing.ID: done.ID},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("apply: %d %s", res.StatusCode, string(data))
	}
	var applied ApplyResponse
	if err := json.Unmarshal(data, &applied); err != nil {
		t.Fatalf("unmarshal apply: %v", err)
	}
	if applied.IssuesReassigned != 2 {
		t.Fatalf("expected 2 reassigned: %s", string(data))
	}
	if len(applied.Template.Columns) != 2 {
		t.Fatalf("column set not committed: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflow-templates/"+tpl.ID+"/issue-counts", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("issue counts: %d %s", res.StatusCode, string(data))
	}
	var counts IssueCountsResponse
	_ = json.Unmarshal(data, &counts)
	if counts.Counts[done.ID] != 2 {
		t.Fatalf("issues not in Done: %s", string(data))
	}
}

func TestCreateTemplateValidationError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/workflow-templates", map[string]any{
		"name": "Bad",
		"columns": []map[string]any{
			{"name": "QA"},
			{"name": "qa "},
		},
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "duplicate_column_name" {
		t.Fatalf("expected duplicate_column_name, got %s", string(data))
	}
}

func TestGetTemplateNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/workflow-templates/nope", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestMoveIssueEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	tpl := createBoard(t, srv, "Open", "Closed")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"template_id": tpl.ID,
		"title":       "bug",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue: %d %s", res.StatusCode, string(data))
	}
	var issue IssueResponse
	_ = json.Unmarshal(data, &issue)
	if issue.ColumnID != tpl.Columns[0].ID {
		t.Fatalf("issue should start in first column: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/move", map[string]any{
		"column_id": tpl.Columns[1].ID,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move issue: %d %s", res.StatusCode, string(data))
	}
	var moved IssueResponse
	_ = json.Unmarshal(data, &moved)
	if moved.ColumnID != tpl.Columns[1].ID {
		t.Fatalf("issue not moved: %s", string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	tpl := createBoard(t, srv, "Open", "Closed")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?entity_id="+tpl.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) != 1 || evts[0].Type != "template.created" {
		t.Fatalf("unexpected events: %s", string(data))
	}
}
