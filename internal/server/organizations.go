package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/provision"
	"github.com/gannetcloud/tenantd/internal/store"
)

type organizationResponse struct {
	OrgID       uuid.UUID          `json:"org_id"`
	Slug        string             `json:"slug"`
	Domain      *string            `json:"domain,omitempty"`
	Tier        models.Tier        `json:"tier"`
	Status      models.OrgStatus   `json:"status"`
	Settings    map[string]any     `json:"settings"`
	Features    []string           `json:"features"`
	UsageLimits models.UsageLimits `json:"usage_limits"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toOrganizationResponse(org *models.Organization) organizationResponse {
	return organizationResponse{
		OrgID:       org.OrgID,
		Slug:        org.Slug,
		Domain:      org.Domain,
		Tier:        org.Tier,
		Status:      org.Status,
		Settings:    org.Settings,
		Features:    org.Features,
		UsageLimits: org.UsageLimits,
		CreatedAt:   org.CreatedAt,
		UpdatedAt:   org.UpdatedAt,
	}
}

type createOrganizationRequest struct {
	Slug   string      `json:"slug"`
	Domain *string     `json:"domain"`
	Tier   models.Tier `json:"tier"`
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Slug == "" {
		writeError(w, http.StatusBadRequest, "slug is required")
		return
	}

	orgID, err := uuid.NewV7()
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	org := &models.Organization{
		OrgID:  orgID,
		Slug:   req.Slug,
		Domain: req.Domain,
		Tier:   req.Tier,
	}

	if err := s.stores.Organizations.Create(r.Context(), org); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusCreated, toOrganizationResponse(org))
}

func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	org, err := s.stores.Organizations.Get(r.Context(), orgID)
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, toOrganizationResponse(org))
}

func (s *Server) handleGetOrganizationBySlug(w http.ResponseWriter, r *http.Request) {
	org, err := s.stores.Organizations.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, toOrganizationResponse(org))
}

type updateOrganizationRequest struct {
	Domain   *string        `json:"domain"`
	Tier     *models.Tier   `json:"tier"`
	Settings map[string]any `json:"settings"`
	Features []string       `json:"features"`
}

func (s *Server) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := s.stores.Organizations.Get(r.Context(), orgID)
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	if req.Domain != nil {
		org.Domain = req.Domain
	}
	if req.Tier != nil {
		org.Tier = *req.Tier
	}
	if req.Features != nil {
		org.Features = req.Features
	}
	// Settings are merged key-by-key, never replaced wholesale: an update
	// touching one setting must not wipe the rest.
	for k, v := range req.Settings {
		if org.Settings == nil {
			org.Settings = map[string]any{}
		}
		org.Settings[k] = v
	}

	if err := s.stores.Organizations.Update(r.Context(), org); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusOK, toOrganizationResponse(org))
}

type provisionRequest struct {
	AdminEmail string         `json:"admin_email"`
	AdminName  string         `json:"admin_name"`
	Settings   map[string]any `json:"settings"`
	Activate   bool           `json:"activate"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req provisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.provisioner.Provision(r.Context(), orgID, provision.Options{
		AdminEmail: req.AdminEmail,
		AdminName:  req.AdminName,
		Settings:   req.Settings,
		Activate:   req.Activate,
	})
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	org, err := s.stores.Organizations.Get(r.Context(), orgID)
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, toOrganizationResponse(org))
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := s.provisioner.DeprovisionSoft(r.Context(), orgID); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	err := s.stores.Organizations.UpdateStatus(r.Context(), orgID, models.OrgStatusSuspended, models.OrgStatusActive)
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHardDeprovision(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := s.provisioner.DeprovisionHard(r.Context(), orgID); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDeadLettered(w http.ResponseWriter, r *http.Request) {
	events, err := s.stores.WebhookEvents.ListDeadLettered(r.Context(), store.ListOptions{})
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
