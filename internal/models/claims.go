package models

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin     = "ROLE_ADMIN"
	RoleModerator = "ROLE_MODERATOR"
)

// Claims - полезная нагрузка access-токена админки.
type Claims struct {
	UserID uint64   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole проверяет наличие роли у пользователя.
func HasRole(userRoles []string, targetRole string) bool {
	return slices.Contains(userRoles, targetRole)
}

type contextKey string

const (
	UserContextKey  contextKey = "userID"
	RolesContextKey contextKey = "roles"
)
