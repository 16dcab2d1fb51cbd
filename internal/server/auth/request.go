package auth

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/safechat/internal/common"
)

const bearerPrefix = "bearer "

// TokenFromRequest returns the bearer token from the "token" query
// parameter or, failing that, the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get(common.AccessTokenQueryParam); t != "" {
		return t
	}
	h := r.Header.Get(common.AuthorizationHeaderName)
	if len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return ""
}
