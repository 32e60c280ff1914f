package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graphdash/graphdash/internal/engine"
)

func TestExplorerQueryReturnsPage(t *testing.T) {
	eng := &fakeGraphEngine{page: engine.Page{
		Columns:    []string{"id"},
		Rows:       [][]any{{float64(1)}, {float64(2)}},
		TotalCount: 105,
		Page:       1,
		PageSize:   50,
		TotalPages: 3,
	}}
	h := NewHandler(testConfig(t), Dependencies{Engine: eng, Explorer: testConfig(t).Explorer})

	body := `{"dataSourceRef":"orders","sql":"SELECT id FROM orders","page":1,"pageSize":50}`
	req := httptest.NewRequest(http.MethodPost, "/v1/explorer/query", strings.NewReader(body))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var page engine.Page
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if page.TotalCount != 105 || page.TotalPages != 3 {
		t.Fatalf("page = %#v", page)
	}
	if eng.lastSource != "orders" || eng.lastSize != 50 {
		t.Fatalf("explore call = %q size %d", eng.lastSource, eng.lastSize)
	}
}

func TestExplorerQueryAppliesDefaultPageSize(t *testing.T) {
	cfg := testConfig(t)
	eng := &fakeGraphEngine{}
	h := NewHandler(cfg, Dependencies{Engine: eng, Explorer: cfg.Explorer})

	body := `{"dataSourceRef":"orders","sql":"SELECT 1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/explorer/query", strings.NewReader(body))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if eng.lastSize != cfg.Explorer.DefaultPageSize {
		t.Fatalf("page size = %d, want %d", eng.lastSize, cfg.Explorer.DefaultPageSize)
	}
}

func TestExplorerQueryClampsPageSizeToMax(t *testing.T) {
	cfg := testConfig(t)
	eng := &fakeGraphEngine{}
	h := NewHandler(cfg, Dependencies{Engine: eng, Explorer: cfg.Explorer})

	body := `{"dataSourceRef":"orders","sql":"SELECT 1","pageSize":100000}`
	req := httptest.NewRequest(http.MethodPost, "/v1/explorer/query", strings.NewReader(body))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if eng.lastSize != cfg.Explorer.MaxPageSize {
		t.Fatalf("page size = %d, want %d", eng.lastSize, cfg.Explorer.MaxPageSize)
	}
}

func TestExplorerQueryRequiresSQL(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Engine: &fakeGraphEngine{}})

	body := `{"dataSourceRef":"orders","sql":"  "}`
	req := httptest.NewRequest(http.MethodPost, "/v1/explorer/query", strings.NewReader(body))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestExplorerQueryMapsUnsafeStatement(t *testing.T) {
	eng := &fakeGraphEngine{err: &engine.ValidationError{Issues: []engine.ParameterIssue{
		{Name: "sql", Code: engine.IssueTypeMismatch, Message: "only read-only SELECT/WITH statements are allowed"},
	}}}
	h := NewHandler(testConfig(t), Dependencies{Engine: eng})

	body := `{"dataSourceRef":"orders","sql":"DELETE FROM orders"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/explorer/query", strings.NewReader(body))
	req.Header.Set("X-Workspace-ID", "ws-1")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}
