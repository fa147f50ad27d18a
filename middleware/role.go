package middleware

import (
	"net/http"

	"homepro/models"
	"homepro/utils"

	"github.com/gin-gonic/gin"
)

// RequireRole lets through only principals holding one of roles. It must run
// after JWTAuthMiddleware.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			utils.JSONError(c, http.StatusUnauthorized, "unauthenticated", "Authentication required", "")
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		utils.JSONError(c, http.StatusForbidden, "unauthorized", "Role not permitted for this endpoint", string(p.Role))
	}
}
