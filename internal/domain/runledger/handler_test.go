package runledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/curation/internal/domain/exclusion"
)

func newTestHandler() (*Handler, *Ledger, *echo.Echo) {
	l, _, _ := newTestLedger()
	return NewHandler(l), l, echo.New()
}

func TestHandler_ListRuns(t *testing.T) {
	h, l, e := newTestHandler()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.StartRun(ctx, nil, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/runs")
	if err := h.ListRuns(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Items []Run  `json:"items"`
		Total int    `json:"total"`
		Limit int    `json:"limit"`
		Next  string `json:"next"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Items) != 2 || resp.Limit != 2 {
		t.Errorf("unexpected page %+v", resp)
	}
	if resp.Next != "/api/v1/runs?limit=2&offset=2" {
		t.Errorf("unexpected next link %q", resp.Next)
	}
}

func TestHandler_ListRuns_BadLimit(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=all", nil), httptest.NewRecorder())
	err := h.ListRuns(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetRun(t *testing.T) {
	h, l, e := newTestHandler()
	id, err := l.StartRun(context.Background(), nil, "v1", nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	if err := h.GetRun(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		id   string
		code int
	}{
		{"bad id", "not-a-uuid", http.StatusBadRequest},
		{"unknown id", uuid.New().String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, e := newTestHandler()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			err := h.GetRun(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.code {
				t.Errorf("expected HTTP %d, got %v", tt.code, err)
			}
		})
	}
}

func TestHandler_ListCodes(t *testing.T) {
	h, l, e := newTestHandler()
	ctx := context.Background()
	id, _ := l.StartRun(ctx, nil, "", nil)
	_, err := l.SnapshotExcludedCodes(ctx, id,
		[]exclusion.Code{{Type: exclusion.CodeTypeAnswer, Value: "A3"}},
		[]exclusion.Code{{Type: exclusion.CodeTypeQuestion, Value: "Q4"}})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	if err := h.ListCodes(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Excluded []RunCode `json:"excluded"`
		Included []RunCode `json:"included"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Excluded) != 1 || resp.Excluded[0].CodeValue != "A3" {
		t.Errorf("unexpected excluded partition %+v", resp.Excluded)
	}
	if len(resp.Included) != 1 || resp.Included[0].CodeValue != "Q4" {
		t.Errorf("unexpected included partition %+v", resp.Included)
	}
}

func TestHandler_ListUnfinished(t *testing.T) {
	h, l, e := newTestHandler()
	ctx := context.Background()
	open, _ := l.StartRun(ctx, nil, "", nil)
	done, _ := l.StartRun(ctx, nil, "", nil)
	if err := l.EndRun(ctx, done); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	if err := h.ListUnfinished(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var runs []Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != open {
		t.Errorf("expected only the open run, got %+v", runs)
	}
}
