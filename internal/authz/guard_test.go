package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/rbac"
	"github.com/dhawalhost/wardgate/pkg/middleware"
)

func TestGuardGatesAdministrativeRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	f.assign(t, "u1", rbac.RoleTenant, nil)
	f.assign(t, "root", rbac.RoleSuperAdmin, nil)

	r := gin.New()
	r.Use(middleware.ActorExtractor(middleware.ActorConfig{Optional: true}))
	g := r.Group("", Guard(f.authz, func(c *gin.Context) (string, string, bool) {
		if c.Request.Method == http.MethodGet {
			return "", "", false
		}
		return "roles", catalog.ActionManage, true
	}, nil))
	g.POST("/users/:userId/roles/:roleId", func(c *gin.Context) { c.Status(http.StatusCreated) })
	g.GET("/users/:userId/roles", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path, actor string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		if actor != "" {
			req.Header.Set(middleware.DefaultActorHeader, actor)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(http.MethodPost, "/users/u1/roles/super_admin", "u1"); code != http.StatusForbidden {
		t.Fatalf("tenant granting super_admin: %d, want 403", code)
	}
	if code := do(http.MethodPost, "/users/u1/roles/super_admin", ""); code != http.StatusBadRequest {
		t.Fatalf("anonymous grant: %d, want 400", code)
	}
	if code := do(http.MethodPost, "/users/u1/roles/super_admin", "root"); code != http.StatusCreated {
		t.Fatalf("super_admin grant: %d, want 201", code)
	}
	if code := do(http.MethodGet, "/users/u1/roles", "u1"); code != http.StatusOK {
		t.Fatalf("open route: %d, want 200", code)
	}

	denied := 0
	for _, e := range f.decisionEntries(t) {
		if e.UserID == "u1" && !e.Success {
			denied++
		}
	}
	if denied != 1 {
		t.Fatalf("expected the denied check to be audited once, got %d", denied)
	}
}
