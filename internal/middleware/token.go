package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/cbt-exam/internal/model"
	"github.com/stemsi/cbt-exam/internal/response"
	"github.com/stemsi/cbt-exam/internal/service"
)

const (
	// ContextKeyPrincipal is the Gin context key for the authenticated principal.
	ContextKeyPrincipal = "principal"
)

// Authenticator resolves a token key to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*model.Principal, error)
}

// RequireToken authenticates "Authorization: Token <key>" (or "Bearer <key>").
func RequireToken(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			c.Header("WWW-Authenticate", "Token")
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		key, ok := parseAuthorization(header)
		if !ok {
			c.Header("WWW-Authenticate", "Token")
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		principal, err := auth.Authenticate(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, service.ErrTokenInvalid) {
				c.Header("WWW-Authenticate", "Token")
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
				return
			}
			_ = c.Error(err)
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}

		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

// RequireCBTProfile rejects principals without a CBTUser profile. Must run after RequireToken.
func RequireCBTProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !principal.HasCBTProfile() {
			response.AbortFail(c, http.StatusForbidden, response.ErrCBTProfileRequired)
			return
		}
		c.Next()
	}
}

// GetPrincipal retrieves the authenticated principal from the Gin context.
func GetPrincipal(c *gin.Context) *model.Principal {
	val, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil
	}
	principal, ok := val.(*model.Principal)
	if !ok {
		return nil
	}
	return principal
}

// parseAuthorization splits "<scheme> <key>" and accepts the Token and Bearer schemes.
func parseAuthorization(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "token") && !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
