package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Mindburn-Labs/fabric/pkg/principal"
	"github.com/Mindburn-Labs/fabric/pkg/planner"
)

// PlannerHandler exposes the delegation planner over HTTP.
type PlannerHandler struct {
	svc *planner.Service
}

func NewPlannerHandler(svc *planner.Service) *PlannerHandler {
	return &PlannerHandler{svc: svc}
}

// RegisterRoutes registers the planner API routes on the given mux.
func (h *PlannerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /plans", h.handleCreate)
	mux.HandleFunc("GET /plans", h.handleList)
	mux.HandleFunc("GET /plans/{id}", h.handleGet)
	mux.HandleFunc("POST /plans/{id}/execute", h.handleExecute)
	mux.HandleFunc("GET /plans/{id}/status", h.handleStatus)
	mux.HandleFunc("POST /workers", h.handleRegisterWorker)
	mux.HandleFunc("GET /workers", h.handleListWorkers)
}

func (h *PlannerHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	var req planner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	result, err := h.svc.CreatePlan(r.Context(), tenantID, req)
	if err != nil {
		if errors.Is(err, planner.ErrInvalid) {
			WriteBadRequest(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func (h *PlannerHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	items, err := h.svc.ListPlans(r.Context(), tenantID, r.URL.Query().Get("status"), queryInt(r, "limit"))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"plans": items, "count": len(items)})
}

func (h *PlannerHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	p, err := h.svc.GetPlan(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			WriteNotFound(w, "plan not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (h *PlannerHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	var req struct {
		DryRun bool `json:"dry_run"`
	}
	// An empty body means a real run.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "invalid request body")
		return
	}

	result, err := h.svc.Execute(r.Context(), tenantID, r.PathValue("id"), req.DryRun)
	if err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			WriteNotFound(w, "plan not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *PlannerHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	result, err := h.svc.Status(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			WriteNotFound(w, "plan not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *PlannerHandler) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	var worker planner.Worker
	if err := json.NewDecoder(r.Body).Decode(&worker); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.svc.RegisterWorker(r.Context(), tenantID, worker); err != nil {
		if errors.Is(err, planner.ErrInvalid) {
			WriteBadRequest(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"status": "registered", "worker_id": worker.WorkerID})
}

func (h *PlannerHandler) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	workers, err := h.svc.ListWorkers(r.Context(), tenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workers": workers, "count": len(workers)})
}
