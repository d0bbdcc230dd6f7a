package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"udensfiltri/internal/services"
)

// Context keys set by the auth middlewares.
const (
	CtxUserID  = "user_id"
	CtxIsStaff = "is_staff"
)

// AccessParser validates access tokens. *services.SessionService implements it.
type AccessParser interface {
	ParseAccess(token string) (*services.Claims, error)
}

// accessToken reads the access cookie first and falls back to
// "Authorization: Bearer <token>".
func accessToken(c *gin.Context, cookieName string) (string, bool) {
	if v, err := c.Cookie(cookieName); err == nil && v != "" {
		return v, true
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

func authenticate(c *gin.Context, parser AccessParser, cookieName string) (present, ok bool) {
	tok, present := accessToken(c, cookieName)
	if !present {
		return false, false
	}
	claims, err := parser.ParseAccess(tok)
	if err != nil {
		return true, false
	}
	c.Set(CtxUserID, claims.UserID)
	c.Set(CtxIsStaff, claims.IsStaff)
	return true, true
}

// AuthMiddleware rejects requests without a valid access token.
func AuthMiddleware(parser AccessParser, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// пропускаем preflight
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		present, ok := authenticate(c, parser, cookieName)
		if !present {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Given token not valid for any token type"})
			return
		}
		c.Next()
	}
}

// OptionalAuth sets the user when a valid access token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(parser AccessParser, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, parser, cookieName)
		c.Next()
	}
}

// CurrentUser returns the authenticated user id and staff flag.
func CurrentUser(c *gin.Context) (userID int64, staff, ok bool) {
	v, exists := c.Get(CtxUserID)
	if !exists {
		return 0, false, false
	}
	userID, ok = v.(int64)
	if !ok || userID == 0 {
		return 0, false, false
	}
	staff = c.GetBool(CtxIsStaff)
	return userID, staff, true
}
