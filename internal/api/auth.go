package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tenantKey    = "tenant"
	tenantHeader = "X-Tenant-ID"
)

// ErrInvalidToken is returned when a bearer token is malformed, expired or
// signed with the wrong key.
var ErrInvalidToken = errors.New("api: invalid token")

// AuthOptions controls how tenant identity is established.
type AuthOptions struct {
	Secret string
	Issuer string
	// AllowTenantHeader accepts X-Tenant-ID without a token. Development only.
	AllowTenantHeader bool
}

// IssueToken signs an HS256 token whose subject is tenantID.
func IssueToken(secret, issuer, tenantID string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("api: jwt secret is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("api: tenant id is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:  tenantID,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return token, nil
}

// ParseToken validates raw and returns its subject.
func ParseToken(secret, issuer, raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// requireTenant resolves the caller's tenant from the bearer token, or from
// X-Tenant-ID when allowed, and stores it on the context.
func requireTenant(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && opts.Secret != "" {
			tenant, err := ParseToken(opts.Secret, opts.Issuer, strings.TrimSpace(raw))
			if err != nil {
				abortJSON(c, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			c.Set(tenantKey, tenant)
			c.Next()
			return
		}
		if opts.AllowTenantHeader {
			if tenant := strings.TrimSpace(c.GetHeader(tenantHeader)); tenant != "" {
				c.Set(tenantKey, tenant)
				c.Next()
				return
			}
		}
		abortJSON(c, http.StatusUnauthorized, "authentication required")
	}
}

func tenantOf(c *gin.Context) string { return c.GetString(tenantKey) }

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
