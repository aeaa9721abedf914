package rbac

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/pkg/middleware"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	r.Use(middleware.ActorExtractor(middleware.ActorConfig{Optional: true}))
	NewHTTPHandler(f.svc, catalog.NewDefault(), nil).RegisterRoutes(r.Group("/api/v1"))
	return r, f
}

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

func TestRoleLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/v1/roles", "admin-1", `{"name":"inspector","permissions":["properties:read:all"],"hierarchy":3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var role Role
	if err := json.Unmarshal(w.Body.Bytes(), &role); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := do(r, http.MethodPost, "/api/v1/users/u1/roles/"+role.ID, "admin-1", `{"reason":"audit season"}`); w.Code != http.StatusCreated {
		t.Fatalf("assign: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/v1/users/u1/roles", "", "")
	var roles struct {
		Roles []string `json:"roles"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &roles)
	if len(roles.Roles) != 1 || roles.Roles[0] != role.ID {
		t.Fatalf("unexpected user roles: %s", w.Body.String())
	}

	if w := do(r, http.MethodDelete, "/api/v1/roles/"+role.ID, "admin-1", ""); w.Code != http.StatusConflict {
		t.Fatalf("delete in use: expected 409, got %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/api/v1/users/u1/roles/"+role.ID, "admin-1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("remove: %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/api/v1/users/u1/roles/"+role.ID, "admin-1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("second remove: expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/api/v1/roles/"+role.ID, "admin-1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
}

func TestSystemRoleDeleteForbidden(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := do(r, http.MethodDelete, "/api/v1/roles/"+RoleAdmin, "admin-1", ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestMutationsRequireActor(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := do(r, http.MethodPost, "/api/v1/roles", "", `{"name":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without actor, got %d", w.Code)
	}
}

func TestListPermissionsAndRolePermissions(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/v1/permissions", "", "")
	var perms struct {
		Permissions []catalog.Permission `json:"permissions"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &perms)
	if len(perms.Permissions) != len(catalog.Defaults()) {
		t.Fatalf("expected %d permissions, got %d", len(catalog.Defaults()), len(perms.Permissions))
	}

	w = do(r, http.MethodGet, "/api/v1/roles/"+RoleTenant+"/permissions", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("role permissions: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/roles/ghost", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
