package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, tenantID, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", tenantID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireTenant(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole(t *testing.T) {
	cases := []struct {
		name    string
		tenant  string
		role    string
		allowed []string
		want    int
	}{
		{"super admin bypasses", "t1", RoleSuperAdmin, ChannelAdmins, http.StatusOK},
		{"agent works the inbox", "t1", RoleAgent, Inbox, http.StatusOK},
		{"agent cannot manage channels", "t1", RoleAgent, ChannelAdmins, http.StatusForbidden},
		{"hidden role denied unless listed", "t1", RoleSupport, Inbox, http.StatusForbidden},
		{"hidden role allowed when listed", "t1", RoleSupport, Operators, http.StatusOK},
		{"tenant required", "", RoleOwner, ChannelAdmins, http.StatusUnauthorized},
		{"role required", "t1", "", ChannelAdmins, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if got := serve(t, tc.tenant, tc.role, tc.allowed...); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}
