package auth

import (
	"net/http"
	"strings"
	"time"

	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// queryTokenParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const queryTokenParam = "access_token"

// Authenticate verifies the caller's access token, puts the identity on the
// request context and tags the request logger with the tenant and user.
// Role checks belong to internal/rbac.
func Authenticate(v *Verifier, clock func() time.Time) gin.HandlerFunc {
	if clock == nil {
		clock = time.Now
	}
	return func(c *gin.Context) {
		raw, ok := requestToken(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.Verify(raw, clock())
		if err != nil {
			logger.FromGin(c).Debug("token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		reqLogger := logger.FromGin(c).With("tenant_id", claims.TenantID, "user_id", claims.UserID)
		c.Set("logger", reqLogger)

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.TenantID, claims.Role)
		c.Request = c.Request.WithContext(logger.With(ctx, reqLogger))
		c.Next()
	}
}

func requestToken(r *http.Request) (string, bool) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		tok, found := strings.CutPrefix(h, bearerPrefix)
		return strings.TrimSpace(tok), found && strings.TrimSpace(tok) != ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		tok := r.URL.Query().Get(queryTokenParam)
		return tok, tok != ""
	}
	return "", false
}
