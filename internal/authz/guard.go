package authz

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

// PermissionFunc names the permission a matched route needs. ok is false for
// routes any caller may reach.
type PermissionFunc func(c *gin.Context) (resource, action string, ok bool)

// Guard runs the caller through the decision path before a guarded route.
// Callers without an actor get 400, denied callers get 403.
func Guard(a Authorizer, need PermissionFunc, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		resource, action, ok := need(c)
		if !ok {
			c.Next()
			return
		}
		actorID, ok := middleware.RequireActor(c)
		if !ok {
			c.Abort()
			return
		}
		d := a.HasPermission(c.Request.Context(), Request{
			UserID:    actorID,
			Resource:  resource,
			Action:    action,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if !d.Allowed {
			logger.Warn("Administrative request denied",
				zap.String("actor_id", actorID),
				zap.String("route", c.FullPath()),
				zap.String("reason", d.Reason))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "reason": d.Reason, "audit_id": d.AuditID})
			return
		}
		c.Next()
	}
}
