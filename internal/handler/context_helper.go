package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academia-billing-api/internal/middleware"
	"github.com/noah-isme/academia-billing-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// tenantScope returns the tenant the caller acts on. Superadmins may pick a
// tenant with ?tenantId=; everyone else is pinned to the token's tenant.
func tenantScope(c *gin.Context) string {
	claims := claimsFromContext(c)
	if claims == nil {
		return ""
	}
	if claims.Role == models.RoleSuperAdmin {
		if tenant := c.Query("tenantId"); tenant != "" {
			return tenant
		}
	}
	return claims.TenantID
}
