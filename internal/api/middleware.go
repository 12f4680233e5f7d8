package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// Auth validates HS256 bearer tokens carrying user_id and role claims
type Auth struct {
	secret []byte
}

// NewAuth creates the token validator
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// GenerateToken signs a token for a user
func (a *Auth) GenerateToken(userID int64, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken validates a token and returns the identity it carries
func (a *Auth) ParseToken(tokenString string) (service.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return service.Actor{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return service.Actor{}, fmt.Errorf("invalid token claims")
	}

	// JSON numbers decode as float64
	rawID, ok := claims["user_id"].(float64)
	if !ok || rawID <= 0 {
		return service.Actor{}, fmt.Errorf("user_id claim missing")
	}
	role, _ := claims["role"].(string)
	if role != models.RoleCustomer && role != models.RoleAdmin {
		return service.Actor{}, fmt.Errorf("unknown role %q", role)
	}
	return service.Actor{UserID: int64(rawID), Role: role}, nil
}

// tokenFrom reads the bearer token, falling back to the token query parameter
// that browsers use for websocket upgrades
func tokenFrom(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// RequireAuth ensures a valid JWT is present
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFrom(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}

		actor, err := a.ParseToken(tokenString)
		if err != nil {
			util.GetLogger().Debug("Rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid or expired token",
				"details": err.Error(),
			})
			return
		}

		c.Set(ctxUserID, actor.UserID)
		c.Set(ctxRole, actor.Role)
		c.Next()
	}
}

// RequireAdmin rejects callers that are not admins; it runs after RequireAuth
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{UserID: c.GetInt64(ctxUserID), Role: c.GetString(ctxRole)}
}
