package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shiftsight/core/internal/pkg/jwt"
	"github.com/shiftsight/core/internal/pkg/response"
	"gorm.io/gorm"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"
	apiTokenPrefix   = "txo"
)

// Auth returns a middleware that enforces JWT or API token authentication.
// Downstream handlers only ever see the pre-validated owner id.
func Auth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := ValidateTokenClaims(db, extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		if claims.Role != "" {
			c.Set(ContextKeyRole, claims.Role)
		}
		c.Next()
	}
}

// ValidateTokenClaims validates a JWT or API token and returns claims.
func ValidateTokenClaims(db *gorm.DB, rawToken string) (*jwt.Claims, error) {
	token := NormalizeToken(rawToken)
	if token == "" {
		return nil, errors.New("token is required")
	}

	if strings.HasPrefix(token, apiTokenPrefix) {
		userID, err := validateAPIToken(db, token)
		if err != nil {
			return nil, err
		}
		return &jwt.Claims{UserID: userID}, nil
	}

	return jwt.Parse(token)
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(string)
	return id
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

func validateAPIToken(db *gorm.DB, token string) (string, error) {
	var row struct {
		UserID string
	}
	err := db.Table("api_tokens").
		Select("user_id").
		Where("token = ? AND (expired_at IS NULL OR expired_at > NOW()) AND deleted_at IS NULL", token).
		Scan(&row).Error
	if err != nil {
		return "", err
	}
	if row.UserID == "" {
		return "", errors.New("api token not found")
	}
	return row.UserID, nil
}
