package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	apperrors "guild-sentinel/internal/errors"
	"guild-sentinel/internal/ledger"
	"guild-sentinel/internal/policy"
)

// AdminHandler exposes the per-tenant policy configuration API.
type AdminHandler struct {
	policies *policy.Store
	ledger   *ledger.Ledger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(policies *policy.Store, lg *ledger.Ledger) *AdminHandler {
	return &AdminHandler{policies: policies, ledger: lg}
}

// Register mounts the admin routes on the mux.
func (a *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/tenants/{tenant}/policy", a.handleGetPolicy)
	mux.HandleFunc("PUT /v1/tenants/{tenant}/notification-target", a.handleSetNotificationTarget)
	mux.HandleFunc("PUT /v1/tenants/{tenant}/thresholds", a.handleSetThreshold)
	mux.HandleFunc("POST /v1/tenants/{tenant}/exemptions", a.handleAddExemption)
	mux.HandleFunc("POST /v1/exemptions", a.handleAddGlobalExemption)
	mux.HandleFunc("GET /v1/status", a.handleStatus)
}

// handleGetPolicy returns the effective policy snapshot for a tenant,
// including defaulted values for tenants that never configured anything.
func (a *AdminHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	pol := a.policies.Get(tenantID)
	respondJSON(w, http.StatusOK, pol)
}

type notificationTargetRequest struct {
	Target string `json:"target"`
}

func (a *AdminHandler) handleSetNotificationTarget(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	tenantID := r.PathValue("tenant")

	var req notificationTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}
	if req.Target == "" {
		respondError(w, http.StatusBadRequest, "target is required", requestID)
		return
	}

	a.policies.SetNotificationTarget(tenantID, req.Target)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "request_id": requestID})
}

type thresholdRequest struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

func (a *AdminHandler) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	tenantID := r.PathValue("tenant")

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}

	if err := a.policies.SetThreshold(tenantID, req.Key, req.Value); err != nil {
		if errors.Is(err, policy.ErrInvalidValue) {
			respondError(w, http.StatusBadRequest, err.Error(), requestID)
			return
		}
		respondError(w, http.StatusInternalServerError, apperrors.SafeErrorMessage(err), requestID)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "request_id": requestID})
}

type exemptionRequest struct {
	ActorID string `json:"actor_id"`
}

func (a *AdminHandler) handleAddExemption(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	tenantID := r.PathValue("tenant")

	var req exemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}
	if req.ActorID == "" {
		respondError(w, http.StatusBadRequest, "actor_id is required", requestID)
		return
	}

	a.policies.AddExemption(tenantID, req.ActorID)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "request_id": requestID})
}

// handleAddGlobalExemption adds an actor to the process-wide exemption set,
// which applies across every tenant and cannot be revoked at tenant scope.
func (a *AdminHandler) handleAddGlobalExemption(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	var req exemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}
	if req.ActorID == "" {
		respondError(w, http.StatusBadRequest, "actor_id is required", requestID)
		return
	}

	a.policies.AddGlobalExemption(req.ActorID)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "request_id": requestID})
}

// handleStatus returns a process-wide summary for operators.
func (a *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	lm := a.ledger.Metrics()
	respondJSON(w, http.StatusOK, map[string]any{
		"tenants":           a.policies.Tenants(),
		"global_exemptions": len(a.policies.GlobalExemptions()),
		"ledger": map[string]any{
			"keys":     lm.Keys,
			"recorded": lm.Recorded,
			"pruned":   lm.Pruned,
		},
	})
}
