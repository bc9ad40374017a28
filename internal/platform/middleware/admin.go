package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "sign-gateway/pkg/domainerrors"
)

// RequireAdminToken guards operational endpoints with a static shared token.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			// Use constant-time comparison to prevent timing attacks
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, string(dErrors.CodeUnauthorized), "admin token required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
