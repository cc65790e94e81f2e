package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bizfin-insight/internal/pkg/jwtutil"
	"bizfin-insight/internal/role"
	"bizfin-insight/internal/transport/http/response"
)

const (
	ContextUserIDKey     = "user_id"
	ContextUsernameKey   = "username"
	ContextRoleKey       = "role"
	ContextDepartmentKey = "department"
)

// AuthJWT accepts "Authorization: Bearer <token>" or, for EventSource clients
// that cannot set headers, a token query parameter.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c)
		if token == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, msg)
			return
		}

		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Set(ContextRoleKey, claims.Role)
		c.Set(ContextDepartmentKey, claims.Department)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, string) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		if q := strings.TrimSpace(c.Query("token")); q != "" {
			return q, ""
		}
		return "", "missing authorization header"
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", "invalid authorization scheme"
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)), "missing token"
}

// RequireRole lets the request through when the token role ranks at least
// as high as required. Must run after AuthJWT.
func RequireRole(required role.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !role.HasAccess(c.GetString(ContextRoleKey), string(required)) {
			response.Abort(c, http.StatusForbidden, response.CodeForbidden, "insufficient permissions: "+string(required)+" required")
			return
		}
		c.Next()
	}
}
