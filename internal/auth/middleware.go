package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gannetcloud/tenantd/internal/tenant"
)

type claimsKey int

const claimsContextKey claimsKey = iota

// ClaimsFromContext returns the verified claims attached by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*Claims)
	return c, ok
}

// Middleware verifies the bearer token and resolves the organization claim
// into a tenant context for the request. A missing or invalid token is 401;
// a claim that doesn't resolve is 403 with no detail about whether the
// organization exists.
func Middleware(verifier *Verifier, resolver *tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := BearerToken(r)
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(tokenStr)
			if err != nil {
				log.Debug().Err(err).Msg("Token verification failed")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			t, err := resolver.ResolveClaims(r.Context(), claims.OrgID(), claims.PrincipalID())
			if err != nil {
				switch {
				case errors.Is(err, tenant.ErrInvalidOrgClaim),
					errors.Is(err, tenant.ErrOrganizationCancelled):
					http.Error(w, "forbidden", http.StatusForbidden)
				default:
					log.Error().Err(err).Msg("Tenant resolution failed")
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
				return
			}

			ctx := tenant.WithTenant(r.Context(), t)
			ctx = context.WithValue(ctx, claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose verified claims lack the role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !claims.HasRole(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
