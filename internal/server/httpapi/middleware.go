package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/dmitrijs2005/safechat/internal/server/auth"
)

type ctxKey int

const userIDKey ctxKey = iota

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's user id in the request context.
func RequireAuth(v Verifier, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := v.Verify(auth.TokenFromRequest(r))
			if err != nil {
				log.Debug(r.Context(), "unauthorized request", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated caller set by RequireAuth.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}
