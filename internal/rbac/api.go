package rbac

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/pkg/middleware"
)

// HTTPHandler handles RBAC HTTP requests.
type HTTPHandler struct {
	svc     Service
	catalog catalog.Catalog
	logger  *zap.Logger
}

// NewHTTPHandler creates a new RBAC HTTP handler.
func NewHTTPHandler(svc Service, cat catalog.Catalog, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, catalog: cat, logger: logger}
}

// RegisterRoutes registers RBAC routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	roles := rg.Group("/roles")
	{
		roles.POST("", h.createRole)
		roles.GET("", h.listRoles)
		roles.GET("/:id", h.getRole)
		roles.PUT("/:id", h.updateRole)
		roles.DELETE("/:id", h.deleteRole)
		roles.GET("/:id/permissions", h.getRolePermissions)
	}

	rg.GET("/permissions", h.listPermissions)

	users := rg.Group("/users")
	{
		users.GET("/:userId/roles", h.getUserRoles)
		users.POST("/:userId/roles/:roleId", h.assignRole)
		users.DELETE("/:userId/roles/:roleId", h.removeRole)
		users.GET("/:userId/assignments", h.listAssignments)
	}
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrRoleInUse), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrRoleProtected):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) fail(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *HTTPHandler) createRole(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var body CreateRoleInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := h.svc.CreateRole(c.Request.Context(), body, actorID)
	if err != nil {
		h.fail(c, "Failed to create role", err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

func (h *HTTPHandler) listRoles(c *gin.Context) {
	roles, err := h.svc.ListRoles(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list roles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

func (h *HTTPHandler) getRole(c *gin.Context) {
	role, err := h.svc.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get role", err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *HTTPHandler) updateRole(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var body UpdateRoleInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := h.svc.UpdateRole(c.Request.Context(), c.Param("id"), body, actorID)
	if err != nil {
		h.fail(c, "Failed to update role", err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *HTTPHandler) deleteRole(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteRole(c.Request.Context(), c.Param("id"), actorID); err != nil {
		h.fail(c, "Failed to delete role", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) getRolePermissions(c *gin.Context) {
	perms, err := h.svc.GetEffectivePermissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get role permissions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

func (h *HTTPHandler) listPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"permissions": h.catalog.List()})
}

func (h *HTTPHandler) getUserRoles(c *gin.Context) {
	roles, err := h.svc.GetUserRoles(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, "Failed to get user roles", err)
		return
	}
	if roles == nil {
		roles = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

type assignRoleRequest struct {
	Reason          string     `json:"reason"`
	ExpiresAt       *time.Time `json:"expires_at"`
	TemporaryAccess bool       `json:"temporary_access"`
}

func (h *HTTPHandler) assignRole(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	var body assignRoleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	a, err := h.svc.AssignRole(c.Request.Context(), c.Param("userId"), c.Param("roleId"), actorID, AssignOptions{
		Reason:          body.Reason,
		ExpiresAt:       body.ExpiresAt,
		TemporaryAccess: body.TemporaryAccess,
	})
	if err != nil {
		h.fail(c, "Failed to assign role", err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *HTTPHandler) removeRole(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	removed, err := h.svc.RemoveRole(c.Request.Context(), c.Param("userId"), c.Param("roleId"), actorID, c.Query("reason"))
	if err != nil {
		h.fail(c, "Failed to remove role", err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active assignment"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) listAssignments(c *gin.Context) {
	assignments, err := h.svc.ListAssignments(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, "Failed to list assignments", err)
		return
	}
	if assignments == nil {
		assignments = []Assignment{}
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}
