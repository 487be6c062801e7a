package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Mindburn-Labs/fabric/pkg/principal"
	"github.com/Mindburn-Labs/fabric/pkg/emission"
	"github.com/Mindburn-Labs/fabric/pkg/tasks"
)

// TaskHandler exposes the lease coordinator over HTTP.
type TaskHandler struct {
	co *tasks.Coordinator
}

func NewTaskHandler(co *tasks.Coordinator) *TaskHandler {
	return &TaskHandler{co: co}
}

// RegisterRoutes registers the coordinator API routes on the given mux.
func (h *TaskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /tasks", h.handleCreate)
	mux.HandleFunc("GET /tasks/{id}", h.handleGet)
	mux.HandleFunc("GET /tasks", h.handleList)
	mux.HandleFunc("POST /lease", h.handleLease)
	mux.HandleFunc("POST /lease/{id}/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("POST /lease/{id}/complete", h.handleComplete)
	mux.HandleFunc("POST /lease/{id}/fail", h.handleFail)
	mux.HandleFunc("GET /admin/expire-leases", h.handleExpireLeases)
	mux.HandleFunc("GET /admin/receipt-queue", h.handleReceiptQueue)
}

// handleCreate answers 503 with the task id when the row persisted but the
// accepted receipt could not be emitted; the caller reconciles via the
// ledger once emission recovers.
func (h *TaskHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	var spec tasks.CreateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	result, err := h.co.Create(r.Context(), tenantID, spec)
	if err != nil {
		switch {
		case errors.Is(err, emission.ErrEmissionFailed):
			WriteServiceUnavailable(w, result.TaskID, "task created but audit emission failed")
		case errors.Is(err, tasks.ErrInvalid):
			WriteBadRequest(w, err.Error())
		default:
			WriteInternal(w, err)
		}
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func (h *TaskHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	t, err := h.co.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			WriteNotFound(w, "task not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	status := tasks.Status(r.URL.Query().Get("status"))
	items, err := h.co.List(r.Context(), tenantID, status, queryInt(r, "limit"))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tasks": items, "count": len(items)})
}

// handleLease answers 204 when nothing is claimable so pollers can
// distinguish "no work" from a failed poll.
func (h *TaskHandler) handleLease(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	var req tasks.LeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	grants, err := h.co.Lease(r.Context(), tenantID, req)
	if err != nil {
		switch {
		case errors.Is(err, tasks.ErrNoWork):
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, tasks.ErrInvalid):
			WriteBadRequest(w, err.Error())
		default:
			WriteInternal(w, err)
		}
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"grants": grants, "count": len(grants)})
}

func (h *TaskHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())
	leaseID := r.PathValue("id")

	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	expiresAt, err := h.co.Heartbeat(r.Context(), tenantID, leaseID, req.WorkerID)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			WriteNotFound(w, "lease not held; abandon the task")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"lease_id": leaseID, "lease_expires_at": expiresAt})
}

func (h *TaskHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())
	leaseID := r.PathValue("id")

	var req tasks.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	result, err := h.co.Complete(r.Context(), tenantID, leaseID, req)
	if err != nil {
		switch {
		case errors.Is(err, emission.ErrEmissionFailed):
			WriteServiceUnavailable(w, result.TaskID, "task completed but audit emission failed")
		case errors.Is(err, tasks.ErrInvalid):
			WriteBadRequest(w, err.Error())
		case errors.Is(err, tasks.ErrNotFound):
			WriteNotFound(w, "lease not held; the task may have been reclaimed")
		default:
			WriteInternal(w, err)
		}
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *TaskHandler) handleFail(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())
	leaseID := r.PathValue("id")

	var req struct {
		WorkerID     string `json:"worker_id"`
		ErrorMessage string `json:"error_message"`
		Retryable    bool   `json:"retryable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	result, err := h.co.Fail(r.Context(), tenantID, leaseID, req.WorkerID, req.ErrorMessage, req.Retryable)
	if err != nil {
		switch {
		case errors.Is(err, emission.ErrEmissionFailed):
			WriteServiceUnavailable(w, result.TaskID, "task failed but audit emission failed")
		case errors.Is(err, tasks.ErrInvalid):
			WriteBadRequest(w, err.Error())
		case errors.Is(err, tasks.ErrNotFound):
			WriteNotFound(w, "lease not held; the task may have been reclaimed")
		default:
			WriteInternal(w, err)
		}
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *TaskHandler) handleExpireLeases(w http.ResponseWriter, r *http.Request) {
	n, err := h.co.ReclaimExpired(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"expired": n})
}

func (h *TaskHandler) handleReceiptQueue(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.co.QueueStatus())
}
