package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"manga-server/internal/models"
)

// TokenVerifier проверяет строку токена и возвращает claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*models.Claims, error)
}

const (
	ContextUserID = "userID"
	ContextRoles  = "roles"
)

// AdminAuth пропускает только запросы с валидным bearer-токеном и одной
// из требуемых ролей (по умолчанию ROLE_ADMIN).
func AdminAuth(verifier TokenVerifier, logger *zap.Logger, requiredRoles ...string) gin.HandlerFunc {
	if len(requiredRoles) == 0 {
		requiredRoles = []string{models.RoleAdmin}
	}
	logger = logger.Named("AdminAuth")

	return func(c *gin.Context) {
		log := logger.With(zap.String("path", c.Request.URL.Path))

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Unauthorized: Missing token")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			log.Warn("Malformed Authorization header")
			abort(c, http.StatusUnauthorized, "Unauthorized: Malformed token header")
			return
		}

		claims, err := verifier.VerifyToken(c.Request.Context(), parts[1])
		if err != nil {
			switch {
			case errors.Is(err, models.ErrTokenExpired):
				abort(c, http.StatusUnauthorized, "Unauthorized: Token expired")
			case errors.Is(err, models.ErrTokenMalformed), errors.Is(err, models.ErrTokenInvalid):
				abort(c, http.StatusUnauthorized, "Unauthorized: Invalid token")
			default:
				log.Error("Unexpected token verification error", zap.Error(err))
				abort(c, http.StatusInternalServerError, "Internal server error during token verification")
			}
			return
		}

		allowed := false
		for _, role := range requiredRoles {
			if models.HasRole(claims.Roles, role) {
				allowed = true
				break
			}
		}
		if !allowed {
			log.Warn("User does not have required role",
				zap.Uint64("userID", claims.UserID),
				zap.Strings("userRoles", claims.Roles),
				zap.Strings("requiredRoles", requiredRoles))
			abort(c, http.StatusForbidden, "Forbidden: Insufficient permissions")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRoles, claims.Roles)
		ctx := context.WithValue(c.Request.Context(), models.UserContextKey, claims.UserID)
		ctx = context.WithValue(ctx, models.RolesContextKey, claims.Roles)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, models.APIError{Message: message})
}
