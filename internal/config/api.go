package config

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

// HTTPHandler exposes the live configuration.
type HTTPHandler struct {
	mgr    *Manager
	logger *zap.Logger
}

// NewHTTPHandler creates a config HTTP handler.
func NewHTTPHandler(mgr *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers config routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	cfg := rg.Group("/config")
	{
		cfg.GET("", h.get)
		cfg.PUT("/mfa", h.updateMFA)
		cfg.PUT("/audit", h.updateAudit)
	}
}

func (h *HTTPHandler) get(c *gin.Context) {
	c.JSON(http.StatusOK, h.mgr.Get())
}

func (h *HTTPHandler) updateMFA(c *gin.Context) {
	var body MFAPolicy
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.update(c, func(cfg *Config) error {
		cfg.MFA = body
		return nil
	})
}

func (h *HTTPHandler) updateAudit(c *gin.Context) {
	var body AuditPolicy
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.update(c, func(cfg *Config) error {
		cfg.Audit = body
		return nil
	})
}

func (h *HTTPHandler) update(c *gin.Context, fn func(*Config) error) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	cfg, err := h.mgr.Update(c.Request.Context(), actorID, fn)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to update config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}
