package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/loomworks/api/internal/models"
	"go.uber.org/zap"
)

// Context keys set by AuthMiddleware
const (
	ContextTenantID = "tenant_id"
	ContextTier     = "tier"
)

// Claims is the JWT payload the gateway issues per tenant
type Claims struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Tier     string    `json:"tier"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates the bearer token and stores tenant identity in
// the request context
func AuthMiddleware(jwtSecret string, logger *zap.Logger) gin.HandlerFunc {
	secret := []byte(jwtSecret)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			Unauthorized(c, "authorization header must use Bearer scheme")
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			logger.Debug("token rejected", zap.Error(err))
			Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		if claims.TenantID == uuid.Nil {
			Unauthorized(c, "token missing tenant identity")
			c.Abort()
			return
		}

		tier := models.Tier(claims.Tier)
		if !tier.Valid() {
			tier = models.TierFree
		}

		c.Set(ContextTenantID, claims.TenantID)
		c.Set(ContextTier, tier)
		c.Next()
	}
}

// TenantFromContext returns the authenticated tenant and tier
func TenantFromContext(c *gin.Context) (uuid.UUID, models.Tier, bool) {
	rawID, ok := c.Get(ContextTenantID)
	if !ok {
		return uuid.Nil, "", false
	}
	tenantID, ok := rawID.(uuid.UUID)
	if !ok {
		return uuid.Nil, "", false
	}

	tier := models.TierFree
	if rawTier, ok := c.Get(ContextTier); ok {
		if t, ok := rawTier.(models.Tier); ok {
			tier = t
		}
	}
	return tenantID, tier, true
}
