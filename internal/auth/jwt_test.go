package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store/memory"
	"github.com/gannetcloud/tenantd/internal/tenant"
)

type testKeys struct {
	private   *ecdsa.PrivateKey
	publicPEM string
}

func newTestKeys(t *testing.T) *testKeys {
	t.Helper()

	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	require.NoError(t, err)

	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	return &testKeys{private: private, publicPEM: string(publicPEM)}
}

func (k *testKeys) sign(t *testing.T, claims *Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(k.private)
	require.NoError(t, err)

	return signed
}

func testClaims(orgID, principalID uuid.UUID, roles ...string) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Org:   orgID.String(),
		Roles: roles,
	}
}

func TestVerifier(t *testing.T) {
	keys := newTestKeys(t)
	verifier, err := NewVerifierFromPEM(keys.publicPEM)
	require.NoError(t, err)

	orgID, err := uuid.NewV7()
	require.NoError(t, err)
	principalID, err := uuid.NewV7()
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		signed := keys.sign(t, testClaims(orgID, principalID, models.RoleAdmin))

		claims, err := verifier.Verify(signed)
		require.NoError(t, err)
		require.Equal(t, orgID, claims.OrgID())
		require.Equal(t, principalID, claims.PrincipalID())
		require.True(t, claims.HasRole(models.RoleAdmin))
	})

	t.Run("expired token", func(t *testing.T) {
		claims := testClaims(orgID, principalID)
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

		_, err := verifier.Verify(keys.sign(t, claims))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := newTestKeys(t)

		_, err := verifier.Verify(other.sign(t, testClaims(orgID, principalID)))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := verifier.Verify("not.a.token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeys(t)
	verifier, err := NewVerifierFromPEM(keys.publicPEM)
	require.NoError(t, err)

	orgs := memory.NewOrganizationStore()
	resolver := tenant.NewResolver(orgs, memory.NewBillingAccountStore())

	activeOrg, err := uuid.NewV7()
	require.NoError(t, err)
	require.NoError(t, orgs.Create(ctx, &models.Organization{
		OrgID:  activeOrg,
		Slug:   "active-org",
		Status: models.OrgStatusActive,
	}))

	cancelledOrg, err := uuid.NewV7()
	require.NoError(t, err)
	require.NoError(t, orgs.Create(ctx, &models.Organization{
		OrgID:  cancelledOrg,
		Slug:   "cancelled-org",
		Status: models.OrgStatusCancelled,
	}))

	principalID, err := uuid.NewV7()
	require.NoError(t, err)

	var gotTenant *tenant.Tenant
	handler := Middleware(verifier, resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	do := func(token string) *httptest.ResponseRecorder {
		gotTenant = nil
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("resolves tenant from claims", func(t *testing.T) {
		rec := do(keys.sign(t, testClaims(activeOrg, principalID, models.RoleMember)))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotTenant)
		require.Equal(t, activeOrg, gotTenant.OrgID)
		require.Equal(t, principalID, gotTenant.ActorID)
		require.Equal(t, tenant.SourceClaims, gotTenant.Source)
	})

	t.Run("missing token is 401", func(t *testing.T) {
		rec := do("")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown org claim is 403", func(t *testing.T) {
		unknownOrg, err := uuid.NewV7()
		require.NoError(t, err)

		rec := do(keys.sign(t, testClaims(unknownOrg, principalID)))
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Nil(t, gotTenant)
	})

	t.Run("cancelled org is 403", func(t *testing.T) {
		rec := do(keys.sign(t, testClaims(cancelledOrg, principalID)))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("nil org claim is 403", func(t *testing.T) {
		claims := testClaims(uuid.Nil, principalID)
		claims.Org = ""

		rec := do(keys.sign(t, claims))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRole(models.RoleAdmin)(next)

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/organizations", nil)
		ctx := context.WithValue(req.Context(), claimsContextKey, &Claims{Roles: []string{models.RoleAdmin}})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("member rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/organizations", nil)
		ctx := context.WithValue(req.Context(), claimsContextKey, &Claims{Roles: []string{models.RoleMember}})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no claims rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/organizations", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}
