package auth

import "github.com/golang-jwt/jwt/v5"

// accessTokenType is the only token_type the API accepts. Refresh and other
// token kinds belong to the identity service that signs them.
const accessTokenType = "access"

// Claims is the token shape shared with the identity service.
// TenantID must be present on every token; there is no cross-tenant access.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
}

func (c Claims) complete() error {
	switch {
	case c.TokenType != accessTokenType:
		return ErrTokenType
	case c.UserID == "", c.TenantID == "", c.Role == "":
		return ErrIncompleteClaims
	}
	return nil
}
