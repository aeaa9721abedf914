package authz

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler exposes the decision path over HTTP.
type HTTPHandler struct {
	authz  Authorizer
	logger *zap.Logger
}

// NewHTTPHandler creates a new authorization HTTP handler.
func NewHTTPHandler(a Authorizer, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{authz: a, logger: logger}
}

// RegisterRoutes registers authorization routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/authz/check", h.check)
}

// check always answers 200 with a decision once the body is valid; a denial
// is a normal result.
func (h *HTTPHandler) check(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = c.ClientIP()
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}
	c.JSON(http.StatusOK, h.authz.HasPermission(c.Request.Context(), req))
}
