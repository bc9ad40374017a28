package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	dErrors "sign-gateway/pkg/domainerrors"
)

// JWTValidator validates bearer tokens on the customer-facing surface.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims carries the identity the gateway trusts from a validated token.
// CustomerID is the clear banking customer id; it is pseudonymized before
// anything downstream persists it.
type JWTClaims struct {
	CustomerID string
	SessionID  string
	ClientID   string
}

type contextKeyCustomerID struct{}
type contextKeySessionID struct{}
type contextKeyClientID struct{}

// Context keys are exported for use in handlers and tests.
var (
	ContextKeyCustomerID = contextKeyCustomerID{}
	ContextKeySessionID  = contextKeySessionID{}
	ContextKeyClientID   = contextKeyClientID{}
)

// GetCustomerID retrieves the authenticated customer id from the context.
func GetCustomerID(ctx context.Context) string {
	customerID, ok := ctx.Value(ContextKeyCustomerID).(string)
	if !ok {
		return ""
	}
	return customerID
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	sessionID, ok := ctx.Value(ContextKeySessionID).(string)
	if !ok {
		return ""
	}
	return sessionID
}

func GetClientID(ctx context.Context) string {
	clientID, ok := ctx.Value(ContextKeyClientID).(string)
	if !ok {
		return ""
	}
	return clientID
}

// writeJSONError writes the service's error envelope, matching what the
// handlers return for domain errors.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if after, ok := strings.CutPrefix(authHeader, bearerPrefix); ok {
				claims, err := validator.ValidateToken(after)
				if err != nil {
					ctx := r.Context()
					logger.WarnContext(ctx, "unauthorized access - invalid token",
						"error", err,
						"request_id", GetRequestID(ctx),
					)
					writeJSONError(w, http.StatusUnauthorized, string(dErrors.CodeUnauthorized), "invalid or expired token")
					return
				}

				ctx := r.Context()
				ctx = context.WithValue(ctx, ContextKeyCustomerID, claims.CustomerID)
				ctx = context.WithValue(ctx, ContextKeySessionID, claims.SessionID)
				ctx = context.WithValue(ctx, ContextKeyClientID, claims.ClientID)

				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// No Authorization header or invalid format
			ctx := r.Context()
			logger.WarnContext(ctx, "unauthorized access - missing token",
				"request_id", GetRequestID(ctx),
			)
			writeJSONError(w, http.StatusUnauthorized, string(dErrors.CodeUnauthorized), "missing or invalid Authorization header")
		})
	}
}
