package policy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

// HTTPHandler handles policy HTTP requests.
type HTTPHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewHTTPHandler creates a new policy HTTP handler.
func NewHTTPHandler(svc Service, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers policy routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	policies := rg.Group("/policies")
	{
		policies.GET("", h.list)
		policies.POST("", h.create)
		policies.POST("/validate", h.validateCondition)
		policies.GET("/:id", h.get)
		policies.PUT("/:id", h.update)
		policies.DELETE("/:id", h.delete)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidExpression):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *HTTPHandler) list(c *gin.Context) {
	policies, err := h.svc.ListPolicies(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list policies", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

func (h *HTTPHandler) get(c *gin.Context) {
	p, err := h.svc.GetPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get policy", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) create(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var body CreatePolicyInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.CreatePolicy(c.Request.Context(), body, actorID)
	if err != nil {
		h.fail(c, "Failed to create policy", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *HTTPHandler) update(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var body UpdatePolicyInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.UpdatePolicy(c.Request.Context(), c.Param("id"), body, actorID)
	if err != nil {
		h.fail(c, "Failed to update policy", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) delete(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	if err := h.svc.DeletePolicy(c.Request.Context(), c.Param("id"), actorID); err != nil {
		h.fail(c, "Failed to delete policy", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) validateCondition(c *gin.Context) {
	var body struct {
		Condition string `json:"condition" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	x, err := Compile(body.Condition)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "normalized": x.String()})
}
