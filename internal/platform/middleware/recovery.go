package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	dErrors "sign-gateway/pkg/domainerrors"
)

// Recovery converts handler panics into 500 responses instead of tearing
// down the connection.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					ctx := r.Context()
					logger.ErrorContext(ctx, "panic in handler",
						"panic", rec,
						"path", r.URL.Path,
						"request_id", GetRequestID(ctx),
						"stack", string(debug.Stack()),
					)
					writeJSONError(w, http.StatusInternalServerError, string(dErrors.CodeInternal), "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
