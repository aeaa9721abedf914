package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

func newTestRouter(t *testing.T, svc Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ActorExtractor(middleware.ActorConfig{Optional: true}))
	NewHTTPHandler(svc, nil).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func seedEntries(t *testing.T, svc Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := svc.Log(context.Background(), Entry{UserID: fmt.Sprintf("u%d", i%3), Action: ActionAccessDenied, Resource: "leases"}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
}

func TestQueryLogsAppliesLimits(t *testing.T) {
	svc := NewService(Options{Clock: clockwork.NewFakeClock()})
	seedEntries(t, svc, 120)
	r := newTestRouter(t, svc)

	tests := []struct {
		query string
		want  int
	}{
		{"", DefaultQueryLimit},
		{"?limit=5", 5},
		{"?limit=5000", 120},
		{"?user_id=u1&limit=1000", 40},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/audit"+tt.query, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tt.query, w.Code)
		}
		var body struct {
			Entries []Entry `json:"entries"`
			Total   int     `json:"total"`
			Limit   int     `json:"limit"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Entries) != tt.want {
			t.Fatalf("%s: got %d entries, want %d", tt.query, len(body.Entries), tt.want)
		}
		if body.Limit > MaxQueryLimit {
			t.Fatalf("%s: limit %d exceeds max", tt.query, body.Limit)
		}
	}
}

func TestQueryLogsRejectsBadTime(t *testing.T) {
	r := newTestRouter(t, NewService(Options{}))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/audit?start_time=yesterday", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetEventNotFound(t *testing.T) {
	r := newTestRouter(t, NewService(Options{}))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/audit/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestExportLogsCSV(t *testing.T) {
	svc := NewService(Options{})
	seedEntries(t, svc, 3)
	r := newTestRouter(t, svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/audit/export", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	records, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(records))
	}
	if records[0][0] != "id" || records[1][3] != string(ActionAccessDenied) {
		t.Fatalf("unexpected csv content: %v", records[:2])
	}
}

func TestRecordEvent(t *testing.T) {
	svc := NewService(Options{})
	r := newTestRouter(t, svc)

	send := func(actor, body string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/audit/events", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if actor != "" {
			req.Header.Set(middleware.DefaultActorHeader, actor)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("alice", `{"action":"login","success":true}`); code != http.StatusCreated {
		t.Fatalf("login: expected 201, got %d", code)
	}
	if code := send("alice", `{"action":"permission_granted","success":true}`); code != http.StatusBadRequest {
		t.Fatalf("decision actions must be rejected, got %d", code)
	}
	if code := send("", `{"action":"logout","success":true}`); code != http.StatusBadRequest {
		t.Fatalf("missing actor must be rejected, got %d", code)
	}

	entries, total, _ := svc.Query(context.Background(), Filter{UserID: "alice"})
	if total != 1 || entries[0].Action != ActionLogin || entries[0].Resource != "session" {
		t.Fatalf("unexpected log contents: %+v", entries)
	}
}
