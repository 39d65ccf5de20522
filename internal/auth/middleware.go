package auth

import (
	"context"
	"log"
	"net/http"
	"strings"
)

type contextKey string

// AccountIDKey is the context key used to store the authenticated account id.
const AccountIDKey contextKey = "account_id"

// TokenValidator turns an access token into an account id.
type TokenValidator interface {
	ValidateAccess(token string) (string, error)
}

// RequireAuth checks for a valid bearer token in the Authorization header and
// stores the account id in the request context. Returns 401 Unauthorized otherwise.
func RequireAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				log.Println("Auth: Missing or malformed Authorization header")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			accountID, err := tokens.ValidateAccess(token)
			if err != nil {
				log.Printf("Auth: Token validation failed: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
		})
	}
}

// bearerToken parses "Bearer <token>". The scheme is case-insensitive (RFC 7235).
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

// WithAccountID returns a context carrying accountID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// GetAccountIDFromContext returns the account id from the context.
func GetAccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(AccountIDKey).(string)
	return id, ok && id != ""
}
