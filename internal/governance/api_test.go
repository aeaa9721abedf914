package governance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

func do(r *gin.Engine, method, path, actor, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	if actor != "" {
		req.Header.Set(middleware.DefaultActorHeader, actor)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAccessRequestLifecycleOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	r.Use(middleware.ActorExtractor(middleware.ActorConfig{Optional: true}))
	NewHTTPHandler(f.svc, nil).RegisterRoutes(r.Group("/api/v1"))

	body := `{"user_id":"u1","reason":"night shift","requested_roles":["property_manager"],"urgency":"high"}`
	if w := do(r, http.MethodPost, "/api/v1/access-requests", "", body); w.Code != http.StatusBadRequest {
		t.Fatalf("missing actor: %d", w.Code)
	}
	w := do(r, http.MethodPost, "/api/v1/access-requests", "u1", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created AccessRequest
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Metadata.Urgency != UrgencyHigh {
		t.Fatalf("urgency not kept: %+v", created.Metadata)
	}

	if w := do(r, http.MethodPost, "/api/v1/access-requests/"+created.ID+"/approve", "u1", ""); w.Code != http.StatusConflict {
		t.Fatalf("self approval: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/api/v1/access-requests/"+created.ID+"/approve", "mgr", ""); w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodPost, "/api/v1/access-requests/"+created.ID+"/reject", "mgr", `{"reason":"late"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("reject after approve: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Changed bool          `json:"changed"`
		Request AccessRequest `json:"request"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Changed || resp.Request.Status != StatusApproved {
		t.Fatalf("unexpected response %+v", resp)
	}

	w = do(r, http.MethodGet, "/api/v1/access-requests?status=approved", "", "")
	var list struct {
		Requests []AccessRequest `json:"requests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Requests) != 1 || list.Requests[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list.Requests)
	}

	if w := do(r, http.MethodGet, "/api/v1/access-requests/nope", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get missing: %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/access-requests", "u1", `{"user_id":"u1","reason":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty request: %d", w.Code)
	}
}
