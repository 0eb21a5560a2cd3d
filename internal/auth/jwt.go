package auth

import (
	"errors"
	"fmt"
	"time"

	"crm-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenType        = errors.New("auth: not an access token")
	ErrIncompleteClaims = errors.New("auth: token lacks user, tenant or role")
)

// Verifier checks HS256 access tokens minted by the identity service.
// The API never issues tokens itself.
type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(cfg.JWTAudience))
	}

	return &Verifier{secret: []byte(cfg.JWTSecret), opts: opts}, nil
}

// Verify parses raw and returns its claims when the signature, the
// registered claims at now and the tenant identity all check out.
func (v *Verifier) Verify(raw string, now time.Time) (Claims, error) {
	var claims Claims
	opts := append(v.opts[:len(v.opts):len(v.opts)], jwt.WithTimeFunc(func() time.Time { return now }))

	if _, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, v.key); err != nil {
		return Claims{}, fmt.Errorf("auth: %w", err)
	}
	if err := claims.complete(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (v *Verifier) key(*jwt.Token) (any, error) { return v.secret, nil }
