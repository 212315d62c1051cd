package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
)

// listOptions reads pagination and visibility controls from query params.
func listOptions(r *http.Request) store.ListOptions {
	var opts store.ListOptions
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = offset
	}
	opts.IncludeDeleted = r.URL.Query().Get("include_deleted") == "true"
	return opts
}

func hardDelete(r *http.Request) bool {
	return r.URL.Query().Get("hard") == "true"
}

// Principals

type createPrincipalRequest struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func (s *Server) handleCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	var req createPrincipalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	principalID, err := uuid.NewV7()
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	principal := &models.Principal{
		PrincipalID: principalID,
		Email:       req.Email,
		Name:        req.Name,
		Roles:       req.Roles,
	}

	if err := s.stores.Principals.Create(r.Context(), principal); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusCreated, principal)
}

func (s *Server) handleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	principal, err := s.stores.Principals.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, principal)
}

func (s *Server) handleListPrincipals(w http.ResponseWriter, r *http.Request) {
	principals, err := s.stores.Principals.List(r.Context(), listOptions(r))
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": principals})
}

type updatePrincipalRequest struct {
	Email *string  `json:"email"`
	Name  *string  `json:"name"`
	Roles []string `json:"roles"`
}

func (s *Server) handleUpdatePrincipal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updatePrincipalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	principal, err := s.stores.Principals.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	if req.Email != nil {
		principal.Email = *req.Email
	}
	if req.Name != nil {
		principal.Name = *req.Name
	}
	if req.Roles != nil {
		principal.Roles = req.Roles
	}

	if err := s.stores.Principals.Update(r.Context(), principal); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusOK, principal)
}

func (s *Server) handleDeletePrincipal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var err error
	if hardDelete(r) {
		err = s.stores.Principals.HardDelete(r.Context(), id)
	} else {
		err = s.stores.Principals.SoftDelete(r.Context(), id)
	}
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Agent instances

type createAgentRequest struct {
	EnvironmentID *uuid.UUID     `json:"environment_id"`
	Name          string         `json:"name"`
	Model         string         `json:"model"`
	Config        map[string]any `json:"config"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	agentID, err := uuid.NewV7()
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	agent := &models.AgentInstance{
		AgentID:       agentID,
		EnvironmentID: req.EnvironmentID,
		Name:          req.Name,
		Model:         req.Model,
		Config:        req.Config,
	}

	if err := s.stores.Agents.Create(r.Context(), agent); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	agent, err := s.stores.Agents.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.stores.Agents.List(r.Context(), listOptions(r))
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type updateAgentRequest struct {
	EnvironmentID *uuid.UUID          `json:"environment_id"`
	Name          *string             `json:"name"`
	Model         *string             `json:"model"`
	Status        *models.AgentStatus `json:"status"`
	Config        map[string]any      `json:"config"`
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := s.stores.Agents.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	if req.EnvironmentID != nil {
		agent.EnvironmentID = req.EnvironmentID
	}
	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Model != nil {
		agent.Model = *req.Model
	}
	if req.Status != nil {
		agent.Status = *req.Status
	}
	if req.Config != nil {
		agent.Config = req.Config
	}

	if err := s.stores.Agents.Update(r.Context(), agent); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var err error
	if hardDelete(r) {
		err = s.stores.Agents.HardDelete(r.Context(), id)
	} else {
		err = s.stores.Agents.SoftDelete(r.Context(), id)
	}
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Environments

type createEnvironmentRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req createEnvironmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	environmentID, err := uuid.NewV7()
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	env := &models.Environment{
		EnvironmentID: environmentID,
		Name:          req.Name,
		Config:        req.Config,
	}

	if err := s.stores.Environments.Create(r.Context(), env); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	env, err := s.stores.Environments.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.stores.Environments.List(r.Context(), listOptions(r))
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}

type updateEnvironmentRequest struct {
	Name   *string        `json:"name"`
	Config map[string]any `json:"config"`
}

func (s *Server) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateEnvironmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	env, err := s.stores.Environments.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	if req.Name != nil {
		env.Name = *req.Name
	}
	if req.Config != nil {
		env.Config = req.Config
	}

	if err := s.stores.Environments.Update(r.Context(), env); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var err error
	if hardDelete(r) {
		err = s.stores.Environments.HardDelete(r.Context(), id)
	} else {
		err = s.stores.Environments.SoftDelete(r.Context(), id)
	}
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Billing accounts

type createBillingAccountRequest struct {
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
	SubscriptionID    string `json:"subscription_id"`
	Plan              string `json:"plan"`
}

func (s *Server) handleCreateBillingAccount(w http.ResponseWriter, r *http.Request) {
	var req createBillingAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Provider == "" || req.ProviderAccountID == "" {
		writeError(w, http.StatusBadRequest, "provider and provider_account_id are required")
		return
	}

	accountID, err := uuid.NewV7()
	if err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	account := &models.BillingAccount{
		BillingAccountID:  accountID,
		Provider:          req.Provider,
		ProviderAccountID: req.ProviderAccountID,
		SubscriptionID:    req.SubscriptionID,
		Plan:              req.Plan,
	}

	if err := s.stores.Billing.Create(r.Context(), account); err != nil {
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleListBillingAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.stores.Billing.List(r.Context(), listOptions(r))
	if err != nil {
		respondStoreError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"billing_accounts": accounts})
}
