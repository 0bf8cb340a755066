package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chroniq.app/engine/common/logger"
)

const ownerIDKey = "owner_id"

// OwnerIdentity reads the owner id the upstream auth layer attached to the
// request. Requests without one are rejected; authentication itself happens
// before traffic reaches this service.
func OwnerIdentity(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(header)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing owner identity"})
			return
		}
		ownerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid owner identity"})
			return
		}

		c.Set(ownerIDKey, ownerID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{OwnerID: &ownerID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// OwnerID returns the owner id set by OwnerIdentity.
func OwnerID(c *gin.Context) int64 {
	return c.GetInt64(ownerIDKey)
}
