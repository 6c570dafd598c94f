package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const principalContextKey contextKey = iota

// ContextWithPrincipal returns a new context carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the principal from the context, or nil if
// not present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// AdminKeyMiddleware returns middleware that requires the admin key as a
// bearer token. On success an admin Principal is injected into the request
// context. onFailure callbacks run for every rejected request.
func AdminKeyMiddleware(v *Verifier, onFailure ...func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(message string) {
				for _, fn := range onFailure {
					fn()
				}
				writeUnauthorized(w, message)
			}

			if !v.Configured() {
				reject("admin api disabled: no admin key configured")
				return
			}
			token := extractBearerToken(r)
			if token == "" {
				reject("missing or malformed authorization header")
				return
			}
			if !v.Verify(token) {
				reject("invalid admin key")
				return
			}

			ctx := ContextWithPrincipal(r.Context(), &Principal{Kind: Admin, KeyPrefix: prefixOf(token)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="teambeat"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
