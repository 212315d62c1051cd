// Package server exposes the HTTP/JSON API: organization lifecycle
// management for admins, tenant-scoped resource endpoints for authenticated
// principals, and the unauthenticated webhook receiver. The organization a
// request operates in always comes from verified claims, never from the
// request body or URL.
package server

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/gannetcloud/tenantd/internal/auth"
	httpmiddleware "github.com/gannetcloud/tenantd/internal/http"
	"github.com/gannetcloud/tenantd/internal/logger"
	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/provision"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/gannetcloud/tenantd/internal/webhook"
)

// Stores bundles the store dependencies of the server.
type Stores struct {
	Organizations store.OrganizationStore
	Principals    store.PrincipalStore
	Agents        store.AgentStore
	Environments  store.EnvironmentStore
	Billing       store.BillingAccountStore
	WebhookEvents store.WebhookEventStore
}

// Server wires the HTTP handlers to the stores and workflows.
type Server struct {
	stores      Stores
	provisioner *provision.Provisioner
	processor   *webhook.Processor
	verifier    *auth.Verifier
	resolver    *tenant.Resolver
	corsOrigins []string
}

// NewServer creates a server. verifier may be nil in development mode, in
// which case authenticated routes are not registered.
func NewServer(stores Stores, provisioner *provision.Provisioner, processor *webhook.Processor, verifier *auth.Verifier, resolver *tenant.Resolver, corsOrigins []string) *Server {
	return &Server{
		stores:      stores,
		provisioner: provisioner,
		processor:   processor,
		verifier:    verifier,
		resolver:    resolver,
		corsOrigins: corsOrigins,
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Webhook receiver: no auth context by definition, tenant derived from
	// the payload's external account reference.
	mux.HandleFunc("POST /webhooks/billing", s.handleBillingWebhook)

	authed := auth.Middleware(s.verifier, s.resolver)
	operator := func(h http.HandlerFunc) http.Handler {
		return authed(auth.RequireRole(models.RoleOperator)(h))
	}

	// Organization lifecycle, platform operator claims required. A tenant's
	// own admin role is deliberately not enough: these routes address
	// organizations by path id, so granting them to tenant admins would let
	// one organization suspend or destroy another.
	mux.Handle("POST /organizations", operator(s.handleCreateOrganization))
	mux.Handle("GET /organizations/{id}", operator(s.handleGetOrganization))
	mux.Handle("GET /organizations/slug/{slug}", operator(s.handleGetOrganizationBySlug))
	mux.Handle("PATCH /organizations/{id}", operator(s.handleUpdateOrganization))
	mux.Handle("POST /organizations/{id}/provision", operator(s.handleProvision))
	mux.Handle("POST /organizations/{id}/suspend", operator(s.handleSuspend))
	mux.Handle("POST /organizations/{id}/reactivate", operator(s.handleReactivate))
	mux.Handle("DELETE /organizations/{id}", operator(s.handleHardDeprovision))
	mux.Handle("GET /webhooks/dead-letter", operator(s.handleListDeadLettered))

	// Tenant-scoped resources: the organization comes from the resolved
	// claims on the request context, nothing else.
	mux.Handle("POST /users", authed(http.HandlerFunc(s.handleCreatePrincipal)))
	mux.Handle("GET /users", authed(http.HandlerFunc(s.handleListPrincipals)))
	mux.Handle("GET /users/{id}", authed(http.HandlerFunc(s.handleGetPrincipal)))
	mux.Handle("PATCH /users/{id}", authed(http.HandlerFunc(s.handleUpdatePrincipal)))
	mux.Handle("DELETE /users/{id}", authed(http.HandlerFunc(s.handleDeletePrincipal)))

	mux.Handle("POST /agents", authed(http.HandlerFunc(s.handleCreateAgent)))
	mux.Handle("GET /agents", authed(http.HandlerFunc(s.handleListAgents)))
	mux.Handle("GET /agents/{id}", authed(http.HandlerFunc(s.handleGetAgent)))
	mux.Handle("PATCH /agents/{id}", authed(http.HandlerFunc(s.handleUpdateAgent)))
	mux.Handle("DELETE /agents/{id}", authed(http.HandlerFunc(s.handleDeleteAgent)))

	mux.Handle("POST /environments", authed(http.HandlerFunc(s.handleCreateEnvironment)))
	mux.Handle("GET /environments", authed(http.HandlerFunc(s.handleListEnvironments)))
	mux.Handle("GET /environments/{id}", authed(http.HandlerFunc(s.handleGetEnvironment)))
	mux.Handle("PATCH /environments/{id}", authed(http.HandlerFunc(s.handleUpdateEnvironment)))
	mux.Handle("DELETE /environments/{id}", authed(http.HandlerFunc(s.handleDeleteEnvironment)))

	mux.Handle("POST /billing-accounts", authed(http.HandlerFunc(s.handleCreateBillingAccount)))
	mux.Handle("GET /billing-accounts", authed(http.HandlerFunc(s.handleListBillingAccounts)))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := httpmiddleware.ClientIPMiddleware()(c.Handler(mux))
	return logger.HTTPRequests(log)(handler)
}
