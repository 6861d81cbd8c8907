package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/identity"
	"github.com/quizforge/core-service/internal/models"
)

// CasdoorAuthMiddleware authenticates requests against Casdoor and binds
// the caller's in-memory session state to the request context.
type CasdoorAuthMiddleware struct {
	identity *identity.SessionManager
}

func NewCasdoorAuthMiddleware(identity *identity.SessionManager) *CasdoorAuthMiddleware {
	return &CasdoorAuthMiddleware{identity: identity}
}

// AuthMiddleware returns a Gin middleware function for Casdoor authentication
func (cam *CasdoorAuthMiddleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Authorization header missing or malformed",
			})
			c.Abort()
			return
		}

		claims, err := cam.identity.ParseToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Invalid token",
				Details: err.Error(),
			})
			c.Abort()
			return
		}

		userID := claims.User.Id
		if userID == "" {
			userID = claims.User.Email
		}

		// Established sessions skip the full start sequence.
		account, agg, ok := cam.identity.Session(c.Request.Context(), userID)
		if !ok {
			account, agg, err = cam.identity.StartSession(c.Request.Context(), claims)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, ErrorResponse{
					Message: "Could not establish session",
					Details: err.Error(),
				})
				c.Abort()
				return
			}
		}

		c.Set("user_id", account.ID)
		c.Set("account", account)
		c.Set("user_role", account.Role)
		c.Set("aggregate", agg)

		c.Next()
	}
}

// OptionalAuthMiddleware binds session state when a valid token is present
// and lets the request through either way. Shared quiz links need this.
func (cam *CasdoorAuthMiddleware) OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		claims, err := cam.identity.ParseToken(token)
		if err != nil {
			c.Next()
			return
		}

		account, agg, err := cam.identity.StartSession(c.Request.Context(), claims)
		if err == nil {
			c.Set("user_id", account.ID)
			c.Set("account", account)
			c.Set("user_role", account.Role)
			c.Set("aggregate", agg)
		}

		c.Next()
	}
}

// RequireRoleMiddleware checks if user has one of the required roles
func (cam *CasdoorAuthMiddleware) RequireRoleMiddleware(requiredRoles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := GetUserRoleFromContext(c)
		if err != nil {
			c.JSON(http.StatusForbidden, ErrorResponse{
				Message: "User role not found in context",
			})
			c.Abort()
			return
		}

		for _, required := range requiredRoles {
			if role == required {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: fmt.Sprintf("Insufficient permissions, required role: %v", requiredRoles),
		})
		c.Abort()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// GetUserIDFromContext extracts user ID from Gin context
func GetUserIDFromContext(c *gin.Context) (string, error) {
	userID, exists := c.Get("user_id")
	if !exists {
		return "", fmt.Errorf("user ID not found in context")
	}

	id, ok := userID.(string)
	if !ok {
		return "", fmt.Errorf("invalid user ID type in context")
	}

	return id, nil
}

// GetAccountFromContext extracts the account from Gin context
func GetAccountFromContext(c *gin.Context) (*models.UserAccount, error) {
	account, exists := c.Get("account")
	if !exists {
		return nil, fmt.Errorf("account not found in context")
	}

	acc, ok := account.(*models.UserAccount)
	if !ok {
		return nil, fmt.Errorf("invalid account type in context")
	}

	return acc, nil
}

// GetAggregateFromContext extracts the caller's state store from Gin context
func GetAggregateFromContext(c *gin.Context) (*aggregate.Store, error) {
	agg, exists := c.Get("aggregate")
	if !exists {
		return nil, fmt.Errorf("session state not found in context")
	}

	store, ok := agg.(*aggregate.Store)
	if !ok {
		return nil, fmt.Errorf("invalid session state type in context")
	}

	return store, nil
}

// GetUserRoleFromContext extracts user role from Gin context
func GetUserRoleFromContext(c *gin.Context) (models.UserRole, error) {
	userRole, exists := c.Get("user_role")
	if !exists {
		return "", fmt.Errorf("user role not found in context")
	}

	role, ok := userRole.(models.UserRole)
	if !ok {
		return "", fmt.Errorf("invalid user role type in context")
	}

	return role, nil
}
