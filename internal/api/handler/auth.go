package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/staykeeper/custody/internal/identity"
)

const (
	ctxTenantID = "custody.tenant_id"
	ctxActorID  = "custody.actor_id"
)

// RequireAuth returns a middleware that verifies the Bearer token and places
// the tenant and actor ids on the request context. Requests without a valid
// token never reach the handlers.
func RequireAuth(tokens *identity.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		tenantID, err := uuid.Parse(claims.TenantID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxTenantID, tenantID)

		if claims.ActorID != "" {
			if actorID, err := uuid.Parse(claims.ActorID); err == nil {
				c.Set(ctxActorID, actorID)
			}
		}
		c.Next()
	}
}

// TenantFromCtx returns the authenticated tenant id.
func TenantFromCtx(c *gin.Context) uuid.UUID {
	v, ok := c.Get(ctxTenantID)
	if !ok {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// ActorFromCtx returns the authenticated actor id, or nil when the token
// carried none.
func ActorFromCtx(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(ctxActorID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
