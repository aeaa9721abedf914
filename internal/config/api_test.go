package config

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

func TestUpdateMFAOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr, _ := NewManager(context.Background(), nil, nil)
	r := gin.New()
	r.Use(middleware.ActorExtractor(middleware.ActorConfig{}))
	NewHTTPHandler(mgr, nil).RegisterRoutes(r.Group("/api/v1"))

	put := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPut, "/api/v1/config/mfa", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.DefaultActorHeader, "admin-1")
		r.ServeHTTP(w, req)
		return w
	}

	w := put(`{"required":true,"required_for_roles":["manager"],"methods":["totp"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var cfg Config
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.MFA.RequiredForRoles) != 1 || cfg.MFA.RequiredForRoles[0] != "manager" {
		t.Fatalf("unexpected mfa policy: %+v", cfg.MFA)
	}

	if w := put(`{"methods":["fax"]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid method, got %d", w.Code)
	}
}
