package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"homepro/models"
	"homepro/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var secret = []byte("middleware-secret")

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	all := append(handlers, func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, p)
	})
	r.GET("/x", all...)
	return r
}

func get(t *testing.T, r *gin.Engine, token string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(secret, sub, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestJWTAuthMiddleware(t *testing.T) {
	r := newRouter(JWTAuthMiddleware(secret))

	t.Run("Given no token When calling Then 401", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(t, r, "", nil).Code)
	})

	t.Run("Given a valid customer token When calling Then the principal is set", func(t *testing.T) {
		w := get(t, r, token(t, "cust-1", "customer"), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"cust-1","role":"customer"}`, w.Body.String())
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Given a token claiming the system role When calling Then 401", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(t, r, token(t, "x", "system"), nil).Code)
	})

	t.Run("Given a garbage token When calling Then 401", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(t, r, "not-a-jwt", nil).Code)
	})
}

func TestRequireRole(t *testing.T) {
	r := newRouter(JWTAuthMiddleware(secret), RequireRole(models.RoleAdmin))

	assert.Equal(t, http.StatusForbidden, get(t, r, token(t, "pro-1", "pro"), nil).Code)
	assert.Equal(t, http.StatusOK, get(t, r, token(t, "admin-1", "admin"), nil).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRouter(RateLimitMiddleware(2))
	a := map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.9"}
	b := map[string]string{"X-Real-IP": "10.0.0.2"}

	assert.Equal(t, http.StatusOK, get(t, r, "", a).Code)
	assert.Equal(t, http.StatusOK, get(t, r, "", a).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, r, "", a).Code)
	assert.Equal(t, http.StatusOK, get(t, r, "", b).Code)
}
