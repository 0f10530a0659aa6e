// Package middleware resolves an opaque bearer token to a subject id for
// route handlers: this core never issues or validates real tokens itself
// (an external collaborator does, per spec.md §1), so RequireSubject and
// OptionalSubject only need an injected TokenResolver seam.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const subjectKey contextKey = "subject_id"

// TokenResolver resolves an opaque bearer token to a subject id. Token
// issuance and validation live outside this service; a real deployment
// wires this to whatever identity provider fronts the API.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

// RequireSubject rejects requests without a resolvable bearer token by
// writing an apperr-shaped Unauthenticated JSON body — there is no login
// page on a JSON API.
func RequireSubject(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthenticated(w)
				return
			}
			subject, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				writeUnauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
		})
	}
}

// OptionalSubject resolves the bearer token if present but never rejects the
// request — the visibility-gated read paths need to know the viewer when
// there is one while still serving public resources to anonymous callers.
func OptionalSubject(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				if subject, err := resolver.Resolve(r.Context(), token); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), subjectKey, subject))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
}

// Subject extracts the resolved subject id from context. ok is false for an
// anonymous caller (no token, or OptionalSubject couldn't resolve it).
func Subject(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(subjectKey).(uuid.UUID)
	return id, ok
}

// IdentityTokenResolver treats the bearer token itself as an already-resolved
// subject id. It's the trivial resolver for deployments that terminate real
// token validation at a gateway in front of this service and forward the
// caller's user id straight through as the bearer value; anything issuing
// opaque session tokens instead should supply its own TokenResolver.
type IdentityTokenResolver struct{}

func (IdentityTokenResolver) Resolve(_ context.Context, token string) (uuid.UUID, error) {
	return uuid.Parse(token)
}
