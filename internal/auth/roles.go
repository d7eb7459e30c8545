// Package auth resolves the caller's roles. The primary source is the
// X-Roles header set by the gateway; the fallback reads the bearer
// token's roles, role, or groups claims. The gateway owns
// authentication; this package only extracts identity attributes.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token cannot be parsed or
// fails signature validation.
var ErrInvalidToken = errors.New("invalid token")

// roleClaims are probed in order; the first present claim wins.
var roleClaims = []string{"roles", "role", "groups"}

// RoleResolver extracts roles from headers and tokens. With a secret it
// validates HS256 signatures; without one it reads claims unverified,
// trusting the gateway that already authenticated the call.
type RoleResolver struct {
	secret []byte
}

// NewRoleResolver builds a resolver. An empty secret disables signature
// checks.
func NewRoleResolver(secret string) *RoleResolver {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &RoleResolver{secret: key}
}

// Resolve returns roles from the header CSV, falling back to the bearer
// token when the header is empty. The result is deduplicated and
// order-preserving; it may be empty.
func (r *RoleResolver) Resolve(headerCSV, bearer string) []string {
	if roles := SplitCSV(headerCSV); len(roles) > 0 {
		return roles
	}
	if bearer == "" {
		return nil
	}
	roles, err := r.RolesFromToken(bearer)
	if err != nil {
		return nil
	}
	return roles
}

// RolesFromToken extracts the role claims from a JWT.
func (r *RoleResolver) RolesFromToken(token string) ([]string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	if len(r.secret) > 0 {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return r.secret, nil
		})
		if err != nil || !parsed.Valid {
			return nil, ErrInvalidToken
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, ErrInvalidToken
		}
	}

	for _, claim := range roleClaims {
		raw, ok := claims[claim]
		if !ok {
			continue
		}
		if roles := expandClaim(raw); len(roles) > 0 {
			return roles, nil
		}
	}
	return nil, nil
}

// expandClaim accepts a CSV string or an array of strings; array
// entries expand through CSV splitting too.
func expandClaim(raw any) []string {
	switch v := raw.(type) {
	case string:
		return SplitCSV(v)
	case []any:
		var roles []string
		seen := make(map[string]bool)
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			for _, role := range SplitCSV(s) {
				key := strings.ToLower(role)
				if !seen[key] {
					seen[key] = true
					roles = append(roles, role)
				}
			}
		}
		return roles
	default:
		return nil
	}
}

// SplitCSV splits a comma-separated role list, trimming whitespace and
// dropping empties and case-insensitive duplicates.
func SplitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var roles []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(csv, ",") {
		role := strings.TrimSpace(part)
		if role == "" {
			continue
		}
		key := strings.ToLower(role)
		if seen[key] {
			continue
		}
		seen[key] = true
		roles = append(roles, role)
	}
	return roles
}
