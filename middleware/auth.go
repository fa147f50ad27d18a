package middleware

import (
	"net/http"
	"strings"

	"homepro/models"
	"homepro/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// JWTAuthMiddleware resolves the bearer token into a principal. The system
// role is never accepted from a token.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.JSONError(c, http.StatusUnauthorized, "unauthenticated", "Missing or invalid Authorization header", "")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := utils.ParseToken(secret, tokenString)
		if err != nil {
			utils.JSONError(c, http.StatusUnauthorized, "unauthenticated", "Invalid token", err.Error())
			return
		}
		role := models.Role(claims.Role)
		if !models.IsValidTokenRole(role) {
			utils.JSONError(c, http.StatusUnauthorized, "unauthenticated", "Invalid role claim", claims.Role)
			return
		}

		p := models.Principal{ID: claims.Subject, Role: role}
		c.Set(principalKey, p)
		c.Set(utils.LoggerKey, utils.RequestLogger(c).With(
			zap.String("principal", p.ID), zap.String("role", string(p.Role))))
		c.Next()
	}
}

// PrincipalFrom returns the principal set by JWTAuthMiddleware.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}
