package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/authutils"
	"manga-server/internal/models"
)

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier, err := authutils.NewJWTVerifier("secret", zap.NewNop())
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequestID(), ZapLogger(zap.NewNop()))
	router.GET("/admin", AdminAuth(verifier, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userID": c.GetUint64(ContextUserID)})
	})

	issue := func(roles []string, ttl time.Duration) string {
		token, err := verifier.IssueToken(models.Claims{
			UserID: 9,
			Roles:  roles,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			},
		})
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"Missing header", "", http.StatusUnauthorized},
		{"Not bearer", "Basic abc", http.StatusUnauthorized},
		{"Garbage token", "Bearer abc", http.StatusUnauthorized},
		{"Expired", "Bearer " + issue([]string{models.RoleAdmin}, -time.Minute), http.StatusUnauthorized},
		{"Wrong role", "Bearer " + issue([]string{"ROLE_USER"}, time.Hour), http.StatusForbidden},
		{"Admin", "Bearer " + issue([]string{models.RoleAdmin}, time.Hour), http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
			if tc.status != http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"message"`)
			}
		})
	}

	t.Run("Request id is propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	})
}
