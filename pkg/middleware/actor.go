package middleware

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// DefaultActorHeader is the HTTP header used to carry the acting user
// identifier when no custom header name is provided. Authentication happens
// upstream; this service trusts the gateway that sets the header.
const DefaultActorHeader = "X-Actor-ID"

// actorContextKey is an unexported key type to avoid collisions in the Gin context store.
type actorContextKey string

const actorIDContextKey actorContextKey = "actorID"

// actorRegex bounds actor identifiers to a safe charset.
var actorRegex = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

// ActorConfig captures the knobs for actor extraction.
type ActorConfig struct {
	// HeaderName is the HTTP header inspected for the actor identifier. Defaults
	// to DefaultActorHeader when empty.
	HeaderName string
	// Optional lets requests without the header through; handlers that need
	// provenance still reject them via ActorIDFromGinContext.
	Optional bool
}

// ActorExtractor returns a Gin middleware that reads the actor identifier from
// the configured header and stores it on the Gin context for downstream handlers.
func ActorExtractor(cfg ActorConfig) gin.HandlerFunc {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = DefaultActorHeader
	}

	return func(c *gin.Context) {
		actorID := c.GetHeader(headerName)
		if actorID == "" {
			if cfg.Optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "missing actor identifier",
			})
			return
		}

		if !actorRegex.MatchString(actorID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid actor id format",
			})
			return
		}

		c.Set(string(actorIDContextKey), actorID)
		ctx := context.WithValue(c.Request.Context(), actorIDContextKey, actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ActorIDFromGinContext extracts the actor identifier previously stored by ActorExtractor.
func ActorIDFromGinContext(c *gin.Context) (string, error) {
	if value, ok := c.Get(string(actorIDContextKey)); ok {
		if actorID, ok := value.(string); ok && actorID != "" {
			return actorID, nil
		}
	}
	return "", errors.New("actor id not found in context")
}

// ActorIDFromContext extracts the actor identifier from a standard context.
func ActorIDFromContext(ctx context.Context) (string, error) {
	if value := ctx.Value(actorIDContextKey); value != nil {
		if actorID, ok := value.(string); ok && actorID != "" {
			return actorID, nil
		}
	}
	return "", errors.New("actor id not found in context")
}

// RequireActor writes a 400 response and returns false when no actor is present.
func RequireActor(c *gin.Context) (string, bool) {
	actorID, err := ActorIDFromGinContext(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor id required"})
		return "", false
	}
	return actorID, true
}
