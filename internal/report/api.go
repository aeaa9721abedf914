package report

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler serves security reports.
type HTTPHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewHTTPHandler creates a new report HTTP handler.
func NewHTTPHandler(svc Service, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers report routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/reports/security", h.security)
}

func (h *HTTPHandler) security(c *gin.Context) {
	r, err := h.svc.Generate(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to generate security report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate security report"})
		return
	}
	c.JSON(http.StatusOK, r)
}
