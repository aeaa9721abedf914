package governance

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

// HTTPHandler handles access request HTTP routes.
type HTTPHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewHTTPHandler creates a new governance HTTP handler.
func NewHTTPHandler(svc Service, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers access request routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	requests := rg.Group("/access-requests")
	{
		requests.POST("", h.create)
		requests.GET("", h.list)
		requests.GET("/:id", h.get)
		requests.POST("/:id/approve", h.approve)
		requests.POST("/:id/reject", h.reject)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
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

func (h *HTTPHandler) create(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var body CreateRequestInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.svc.Create(c.Request.Context(), body, actorID)
	if err != nil {
		h.fail(c, "Failed to create access request", err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *HTTPHandler) list(c *gin.Context) {
	requests, err := h.svc.List(c.Request.Context(), Status(c.Query("status")))
	if err != nil {
		h.fail(c, "Failed to list access requests", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (h *HTTPHandler) get(c *gin.Context) {
	r, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get access request", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *HTTPHandler) approve(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	moved, err := h.svc.Approve(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		h.fail(c, "Failed to approve access request", err)
		return
	}
	h.respondTransition(c, moved)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *HTTPHandler) reject(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var body rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	moved, err := h.svc.Reject(c.Request.Context(), c.Param("id"), actorID, body.Reason)
	if err != nil {
		h.fail(c, "Failed to reject access request", err)
		return
	}
	h.respondTransition(c, moved)
}

// respondTransition returns the request as stored; a request that was already
// decided answers 409 with its current state.
func (h *HTTPHandler) respondTransition(c *gin.Context, moved bool) {
	r, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get access request", err)
		return
	}
	status := http.StatusOK
	if !moved {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"changed": moved, "request": r})
}
