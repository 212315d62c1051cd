package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/gannetcloud/tenantd/internal/http"
	"github.com/gannetcloud/tenantd/internal/provision"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/telemetry"
	"github.com/gannetcloud/tenantd/internal/tenant"
	"github.com/gannetcloud/tenantd/internal/webhook"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// respondStoreError maps store and workflow errors to HTTP statuses. An
// isolation violation on a write is 403 and audit-logged with the client IP;
// on a read the same condition surfaces as 404 so resource existence never
// leaks across tenants.
func respondStoreError(w http.ResponseWriter, r *http.Request, err error, write bool) {
	switch {
	case errors.Is(err, store.ErrIsolationViolation):
		telemetry.GetMetrics().IsolationViolationsTotal.Add(r.Context(), 1)
		log.Warn().
			Err(err).
			Str("client_ip", httpmiddleware.ClientIPFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Isolation violation rejected")
		if write {
			writeError(w, http.StatusForbidden, "forbidden")
		} else {
			writeError(w, http.StatusNotFound, "not found")
		}

	case errors.Is(err, store.ErrOrganizationNotFound),
		errors.Is(err, store.ErrPrincipalNotFound),
		errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, store.ErrEnvironmentNotFound),
		errors.Is(err, store.ErrBillingAccountNotFound),
		errors.Is(err, store.ErrWebhookEventNotFound):
		writeError(w, http.StatusNotFound, "not found")

	case errors.Is(err, store.ErrOrganizationAlreadyExists),
		errors.Is(err, store.ErrPrincipalAlreadyExists),
		errors.Is(err, store.ErrAgentAlreadyExists),
		errors.Is(err, store.ErrEnvironmentAlreadyExists),
		errors.Is(err, store.ErrBillingAccountAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")

	case errors.Is(err, store.ErrInvalidStatusTransition),
		errors.Is(err, provision.ErrNotSuspended),
		errors.Is(err, provision.ErrProvisionInProgress):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, provision.ErrProvisionIncomplete):
		// Retryable: required steps failed and the organization is still
		// pending. 502 tells the caller to retry, not to change the request.
		writeError(w, http.StatusBadGateway, err.Error())

	case errors.Is(err, provision.ErrAdminEmailRequired),
		errors.Is(err, webhook.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, tenant.ErrNoTenantContext):
		writeError(w, http.StatusUnauthorized, "unauthorized")

	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
