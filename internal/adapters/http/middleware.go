package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

type contextKey string

const claimsKey contextKey = "auth-claims"

// requireAuth validates the bearer token and stashes the claims in the
// request context for the handler.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeMessage(w, http.StatusUnauthorized, false, "missing bearer token")
			return
		}
		claims, err := h.signer.ParseAndValidate(raw)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, false, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func claimsFrom(ctx context.Context) (ports.AuthClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(ports.AuthClaims)
	return claims, ok
}
