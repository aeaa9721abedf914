package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newActorRouter(cfg ActorConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ActorExtractor(cfg))
	r.GET("/", func(c *gin.Context) {
		actorID, err := ActorIDFromGinContext(c)
		if err != nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		fromCtx, err := ActorIDFromContext(c.Request.Context())
		if err != nil || fromCtx != actorID {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, actorID)
	})
	return r
}

func TestActorExtractorStoresActor(t *testing.T) {
	r := newActorRouter(ActorConfig{})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultActorHeader, "admin-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "admin-1" {
		t.Fatalf("unexpected response: %d %q", w.Code, w.Body.String())
	}
}

func TestActorExtractorRejectsMissingHeader(t *testing.T) {
	r := newActorRouter(ActorConfig{})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestActorExtractorOptional(t *testing.T) {
	r := newActorRouter(ActorConfig{Optional: true})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "anonymous" {
		t.Fatalf("unexpected response: %d %q", w.Code, w.Body.String())
	}
}

func TestActorExtractorRejectsInvalidFormat(t *testing.T) {
	r := newActorRouter(ActorConfig{})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultActorHeader, "bad actor; drop")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
