package middlewares

import (
	"net/http"
	"strings"

	"github.com/geocoder89/progresshub/internal/actorctx"
	"github.com/geocoder89/progresshub/internal/auth"
	"github.com/geocoder89/progresshub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenVerifier
}

func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

const unauthorizedMessage = "Missing or invalid access token"

// RequireAuth admits only requests carrying "Authorization: Bearer <token>"
// with a token that verifies. A bad header and a bad token are reported the
// same way.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", unauthorizedMessage)
			return
		}

		claims, err := m.tokens.Verify(raw)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", unauthorizedMessage)
			return
		}

		id := claims.Identity()

		c.Set(ctxIdentityKey, id)
		c.Request = c.Request.WithContext(actorctx.WithIdentity(c.Request.Context(), id))

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}

	return token, true
}

// Helpers so handlers don't need to know the magic keys.

func IdentityFromContext(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ctxIdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok && id.ID != ""
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	id, ok := IdentityFromContext(c)
	return id.ID, ok
}

// RequireRole must run after RequireAuth. Roles match exactly; there is no
// hierarchy, so an admin does not pass a teacher-only gate.
func (m *AuthMiddleware) RequireRole(required user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFromContext(c)

		switch {
		case !ok:
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
		case id.Role != required:
			abortWithError(c, http.StatusForbidden, "forbidden", "Insufficient role")
		default:
			c.Next()
		}
	}
}
