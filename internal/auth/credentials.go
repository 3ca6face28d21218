package auth

import (
	"net/http"
	"strings"
)

// Credential sources on the upgrade request, in fixed priority order. The
// first non-empty source wins.
//
//	1. Authorization: Bearer <token> header
//	2. token query parameter
//	3. access_token cookie
const (
	bearerPrefix      = "Bearer "
	tokenQueryParam   = "token"
	accessTokenCookie = "access_token"
)

// ExtractCredential pulls the bearer credential from connection-establishment
// metadata. Returns "" when no source carries one.
func ExtractCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, bearerPrefix) {
			if token := strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)); token != "" {
				return token
			}
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); token != "" {
		return token
	}

	if c, err := r.Cookie(accessTokenCookie); err == nil {
		if token := strings.TrimSpace(c.Value); token != "" {
			return token
		}
	}

	return ""
}
