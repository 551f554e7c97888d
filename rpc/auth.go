package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	adminScope = "admin"
	clockSkew  = time.Minute
)

// adminAuth validates HS256 bearer tokens carrying the admin scope.
type adminAuth struct {
	secret []byte
	issuer string
}

func newAdminAuth(secret, issuer string) *adminAuth {
	return &adminAuth{secret: []byte(strings.TrimSpace(secret)), issuer: strings.TrimSpace(issuer)}
}

func (a *adminAuth) authorize(r *http.Request) *RPCError {
	if a == nil || len(a.secret) == 0 {
		return newError(http.StatusUnauthorized, codeUnauthorized, "admin methods are disabled", nil)
	}
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return newError(http.StatusUnauthorized, codeUnauthorized, "missing bearer token", nil)
	}
	claims, err := a.parse(token)
	if err != nil {
		return newError(http.StatusUnauthorized, codeUnauthorized, "invalid token", err.Error())
	}
	if !hasScope(claims, adminScope) {
		return newError(http.StatusForbidden, codeUnauthorized, "insufficient scope", nil)
	}
	return nil
}

func (a *adminAuth) parse(raw string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func hasScope(claims jwt.MapClaims, scope string) bool {
	switch v := claims["scope"].(type) {
	case string:
		for _, field := range strings.Fields(v) {
			if field == scope {
				return true
			}
		}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == scope {
				return true
			}
		}
	}
	return false
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
