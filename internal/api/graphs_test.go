package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graphdash/graphdash/internal/engine"
)

func TestCreateGraphPersistsNodes(t *testing.T) {
	repo := &fakeAPICatalog{}
	h := NewHandler(testConfig(t), Dependencies{Catalog: repo})

	body := `{"name":"checkout","nodes":[{"refId":"A","text":"SELECT count(*) FROM orders","dataSourceRef":"orders"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs", strings.NewReader(body))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var response graphResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if response.GraphID == "" || response.Name != "checkout" {
		t.Fatalf("response = %#v", response)
	}
	if len(repo.graphs) != 1 {
		t.Fatalf("stored graphs = %d", len(repo.graphs))
	}
}

func TestCreateGraphRejectsUnexecutablePlan(t *testing.T) {
	repo := &fakeAPICatalog{}
	h := NewHandler(testConfig(t), Dependencies{Catalog: repo})

	// A and B reference each other, so the plan can never run.
	body := `{"name":"broken","nodes":[{"refId":"A","operation":"math","expression":"B * 2"},{"refId":"B","operation":"math","expression":"A * 2"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs", strings.NewReader(body))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(repo.graphs) != 0 {
		t.Fatalf("broken graph was stored")
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if response["error_code"] != "INVALID_PLAN" {
		t.Fatalf("error_code = %v", response["error_code"])
	}
}

func TestGetGraphNotFound(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: &fakeAPICatalog{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/missing", nil)
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestDeleteGraphReportsMissing(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: &fakeAPICatalog{}})

	req := httptest.NewRequest(http.MethodDelete, "/v1/graphs/missing", nil)
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestExecuteGraphLoadsSavedNodes(t *testing.T) {
	repo := &fakeAPICatalog{}
	eng := &fakeGraphEngine{results: map[string]engine.Result{
		"A": {Columns: []string{"total"}, Rows: [][]any{{float64(105)}}},
	}}
	h := NewHandler(testConfig(t), Dependencies{Catalog: repo, Engine: eng})

	createBody := `{"name":"checkout","nodes":[{"refId":"A","text":"SELECT count(*) AS total FROM orders","dataSourceRef":"orders"}]}`
	createReq := httptest.NewRequest(http.MethodPost, "/v1/graphs", strings.NewReader(createBody))
	createReq.Header.Set("X-Workspace-ID", "ws-1")
	createResp := httptest.NewRecorder()
	h.ServeHTTP(createResp, createReq)
	if createResp.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", createResp.Code, createResp.Body.String())
	}

	var created graphResponse
	if err := json.Unmarshal(createResp.Body.Bytes(), &created); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}

	execBody := `{"parameters":{},"timeRange":{"name":"24h"}}`
	execReq := httptest.NewRequest(http.MethodPost, "/v1/graphs/"+created.GraphID+"/execute", strings.NewReader(execBody))
	execReq.Header.Set("X-Workspace-ID", "ws-1")
	execResp := httptest.NewRecorder()
	h.ServeHTTP(execResp, execReq)
	if execResp.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body = %s", execResp.Code, execResp.Body.String())
	}

	if len(eng.executed) != 1 {
		t.Fatalf("engine executions = %d", len(eng.executed))
	}
	request := eng.executed[0]
	if len(request.Nodes) != 1 || request.Nodes[0].RefID != "A" {
		t.Fatalf("executed nodes = %#v", request.Nodes)
	}
	if request.TimeRange.Name != "24h" {
		t.Fatalf("time range = %#v", request.TimeRange)
	}
}

func TestExecuteGraphNotFound(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: &fakeAPICatalog{}, Engine: &fakeGraphEngine{}})

	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/missing/execute", strings.NewReader(`{}`))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
