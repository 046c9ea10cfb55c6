package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
)

const identityKey = "identity"

// Bearer enforces HS256 bearer tokens and stores the caller identity on the context.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "invalid token"})
			return
		}
		c.Set(identityKey, attendance.Identity{ID: claims.Subject, Role: attendance.Role(claims.Role)})
		c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...attendance.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := IdentityFrom(c)
		if ok {
			for _, r := range roles {
				if who.Role == r {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": string(attendance.KindNotAuthorized), "message": "access denied"})
	}
}

// IdentityFrom returns the identity set by Bearer.
func IdentityFrom(c *gin.Context) (attendance.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return attendance.Identity{}, false
	}
	who, ok := v.(attendance.Identity)
	return who, ok
}
