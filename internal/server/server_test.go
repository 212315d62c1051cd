package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gannetcloud/tenantd/internal/auth"
	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/provision"
	"github.com/gannetcloud/tenantd/internal/store/memory"
	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/gannetcloud/tenantd/internal/webhook"
)

var webhookSecret = []byte("server-test-webhook-secret")

type testServer struct {
	handler http.Handler
	key     *ecdsa.PrivateKey

	orgs       *memory.OrganizationStore
	principals *memory.PrincipalStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	verifier, err := auth.NewVerifierFromPEM(string(publicPEM))
	require.NoError(t, err)

	principals := memory.NewPrincipalStore()
	agents := memory.NewAgentStore()
	environments := memory.NewEnvironmentStore()
	billing := memory.NewBillingAccountStore()
	orgs := memory.NewOrganizationStore(principals, agents, environments, billing)
	events := memory.NewWebhookEventStore()
	steps := memory.NewProvisionStepStore()

	resolver := tenant.NewResolver(orgs, billing)
	provisioner := provision.New(orgs, principals, steps, nil, nil)
	processor := webhook.NewProcessor(events, resolver, nil, webhookSecret)

	srv := NewServer(Stores{
		Organizations: orgs,
		Principals:    principals,
		Agents:        agents,
		Environments:  environments,
		Billing:       billing,
		WebhookEvents: events,
	}, provisioner, processor, verifier, resolver, []string{"https://localhost"})

	return &testServer{
		handler:    srv.Handler(zerolog.Nop()),
		key:        key,
		orgs:       orgs,
		principals: principals,
	}
}

func (ts *testServer) token(t *testing.T, orgID uuid.UUID, roles ...string) string {
	t.Helper()

	principalID, err := uuid.NewV7()
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodES256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Org:   orgID.String(),
		Roles: roles,
	})
	signed, err := token.SignedString(ts.key)
	require.NoError(t, err)

	return signed
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createActiveOrg(t *testing.T, slug string) uuid.UUID {
	t.Helper()

	orgID, err := uuid.NewV7()
	require.NoError(t, err)
	require.NoError(t, ts.orgs.Create(context.Background(), &models.Organization{
		OrgID:  orgID,
		Slug:   slug,
		Status: models.OrgStatusActive,
	}))

	return orgID
}

func TestOrganizationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	operatorOrg := ts.createActiveOrg(t, "platform")
	operatorToken := ts.token(t, operatorOrg, models.RoleOperator)

	rec := ts.do(t, http.MethodPost, "/organizations", operatorToken, map[string]any{
		"slug": "acme",
		"tier": "professional",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created organizationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, models.OrgStatusPending, created.Status)

	orgPath := "/organizations/" + created.OrgID.String()

	t.Run("provision activates", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, orgPath+"/provision", operatorToken, map[string]any{
			"admin_email": "admin@acme.example",
			"activate":    true,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var org organizationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
		require.Equal(t, models.OrgStatusActive, org.Status)
		require.NotEmpty(t, org.Features)
	})

	t.Run("provision without admin email stays pending", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/organizations", operatorToken, map[string]any{"slug": "other"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var org organizationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))

		rec = ts.do(t, http.MethodPost, "/organizations/"+org.OrgID.String()+"/provision", operatorToken, map[string]any{})
		require.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("get by slug", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/organizations/slug/acme", operatorToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("tenant roles cannot manage organizations", func(t *testing.T) {
		for _, role := range []string{models.RoleAdmin, models.RoleMember} {
			rec := ts.do(t, http.MethodGet, orgPath, ts.token(t, operatorOrg, role), nil)
			require.Equal(t, http.StatusForbidden, rec.Code, role)
		}
	})

	t.Run("suspend then delete", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, orgPath, operatorToken, nil)
		require.Equal(t, http.StatusConflict, rec.Code, "hard delete requires suspension first")

		rec = ts.do(t, http.MethodPost, orgPath+"/suspend", operatorToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.do(t, http.MethodDelete, orgPath, operatorToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.do(t, http.MethodGet, orgPath, operatorToken, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTenantAdminCannotManageOtherOrganizations(t *testing.T) {
	ts := newTestServer(t)
	orgA := ts.createActiveOrg(t, "org-a")
	orgB := ts.createActiveOrg(t, "org-b")

	// The strongest role a tenant can hold. Bootstrapped admins get exactly
	// this, so it must not open the organization lifecycle surface.
	adminA := ts.token(t, orgA, models.RoleAdmin)
	orgBPath := "/organizations/" + orgB.String()

	require.NoError(t, ts.orgs.UpdateStatus(context.Background(), orgB, models.OrgStatusActive, models.OrgStatusSuspended))

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodDelete, orgBPath},
		{http.MethodPost, orgBPath + "/suspend"},
		{http.MethodPost, orgBPath + "/reactivate"},
		{http.MethodPatch, orgBPath},
		{http.MethodGet, orgBPath},
	} {
		rec := ts.do(t, tc.method, tc.path, adminA, map[string]any{})
		require.Equal(t, http.StatusForbidden, rec.Code, "%s %s", tc.method, tc.path)
	}

	// Org B and its suspension survive untouched.
	org, err := ts.orgs.Get(context.Background(), orgB)
	require.NoError(t, err)
	require.Equal(t, models.OrgStatusSuspended, org.Status)
}

func TestTenantIsolationOverAPI(t *testing.T) {
	ts := newTestServer(t)
	orgA := ts.createActiveOrg(t, "org-a")
	orgB := ts.createActiveOrg(t, "org-b")

	tokenA := ts.token(t, orgA, models.RoleMember)
	tokenB := ts.token(t, orgB, models.RoleMember)

	rec := ts.do(t, http.MethodPost, "/environments", tokenA, map[string]any{"name": "production"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var env models.Environment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	envPath := "/environments/" + env.EnvironmentID.String()

	t.Run("owner reads own resource", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, envPath, tokenA, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("other org gets 404, not 403", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, envPath, tokenB, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, "cross-tenant reads must not leak existence")
	})

	t.Run("other org cannot update", func(t *testing.T) {
		rec := ts.do(t, http.MethodPatch, envPath, tokenB, map[string]any{"name": "hijacked"})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("other org list excludes it", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/environments", tokenB, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Environments []*models.Environment `json:"environments"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Empty(t, resp.Environments)
	})

	t.Run("no token is 401", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, envPath, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCancelledOrgRejected(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createActiveOrg(t, "doomed")

	ctx := context.Background()
	require.NoError(t, ts.orgs.UpdateStatus(ctx, orgID, models.OrgStatusActive, models.OrgStatusSuspended))
	require.NoError(t, ts.orgs.UpdateStatus(ctx, orgID, models.OrgStatusSuspended, models.OrgStatusCancelled))

	rec := ts.do(t, http.MethodGet, "/users", ts.token(t, orgID, models.RoleMember), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBillingWebhookEndpoint(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createActiveOrg(t, "hooked")
	token := ts.token(t, orgID, models.RoleMember)

	rec := ts.do(t, http.MethodPost, "/billing-accounts", token, map[string]any{
		"provider":            "stripe",
		"provider_account_id": "cus_srv1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	post := func(payload []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		if signature != "" {
			req.Header.Set("X-Webhook-Signature", signature)
		}
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("known account processed", func(t *testing.T) {
		payload := []byte(fmt.Sprintf(`{"id":"evt_srv1","type":"invoice.paid","account":%q}`, "cus_srv1"))
		rec := post(payload, webhook.Sign(webhookSecret, payload))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status models.WebhookEventStatus `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, models.WebhookEventProcessed, resp.Status)
	})

	t.Run("unknown account acknowledged but dead-lettered", func(t *testing.T) {
		payload := []byte(`{"id":"evt_srv2","type":"invoice.paid","account":"cus_nobody"}`)
		rec := post(payload, webhook.Sign(webhookSecret, payload))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status models.WebhookEventStatus `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, models.WebhookEventDeadLettered, resp.Status)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		payload := []byte(`{"id":"evt_srv3","account":"cus_srv1"}`)
		rec := post(payload, "deadbeef")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
