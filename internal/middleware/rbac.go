package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// Gate is a role allow-list attached to a route group. Declaring gates
// as data keeps the access policy reviewable in one place.
type Gate []models.UserRole

// The access policy tables used by the router.
var (
	AdminOnly      = Gate{models.RoleAdmin}
	StaffOnly      = Gate{models.RoleAdmin, models.RoleAccounting}
	AccountingGate = Gate{models.RoleAccounting}
	StudentOnly    = Gate{models.RoleStudent}
	AnyRole        = Gate{models.RoleAdmin, models.RoleAccounting, models.RoleStudent}
)

// Middleware enforces the gate against the authenticated claims.
func (g Gate) Middleware() gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(g))
	for _, role := range g {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRoles builds a gate middleware from an inline role list.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return Gate(roles).Middleware()
}
