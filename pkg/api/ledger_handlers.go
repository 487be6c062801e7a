package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/fabric/pkg/principal"
	"github.com/Mindburn-Labs/fabric/pkg/ledger"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
)

// maxReceiptBytes bounds one append body. Receipts carry up to 100 KiB
// bodies plus envelope overhead.
const maxReceiptBytes = 512 * 1024

// LedgerHandler exposes the receipt ledger over HTTP.
type LedgerHandler struct {
	ledger ledger.Ledger
}

func NewLedgerHandler(l ledger.Ledger) *LedgerHandler {
	return &LedgerHandler{ledger: l}
}

// RegisterRoutes registers the ledger API routes on the given mux.
func (h *LedgerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /receipts", h.handleAppend)
	mux.HandleFunc("GET /receipts/search", h.handleSearch)
	mux.HandleFunc("GET /receipts/task/{task_id}", h.handleTimeline)
	mux.HandleFunc("GET /receipts/chain/{receipt_id}", h.handleChain)
	mux.HandleFunc("GET /receipts/{id}", h.handleGet)
	mux.HandleFunc("POST /receipts/{id}/archive", h.handleArchive)
	mux.HandleFunc("GET /inbox", h.handleInbox)
	mux.HandleFunc("POST /bootstrap", h.handleBootstrap)
}

// handleAppend validates the envelope before decoding so malformed JSON and
// type violations surface as field-level details, not a bare decode error.
func (h *LedgerHandler) handleAppend(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReceiptBytes))
	if err != nil {
		WriteBadRequest(w, "request body too large or unreadable")
		return
	}
	if details := receipts.ValidateEnvelope(raw); len(details) > 0 {
		WriteValidationFailed(w, details)
		return
	}

	var receipt receipts.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	result, err := h.ledger.Append(r.Context(), tenantID, &receipt)
	if err != nil {
		var vfe *ledger.ValidationFailedError
		switch {
		case errors.Is(err, ledger.ErrDuplicate):
			WriteDuplicate(w, receipt.ReceiptID)
		case errors.As(err, &vfe):
			WriteValidationFailed(w, vfe.Details)
		default:
			WriteInternal(w, err)
		}
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func (h *LedgerHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	receipt, err := h.ledger.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "receipt not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, receipt)
}

func (h *LedgerHandler) handleInbox(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	recipientAI := r.URL.Query().Get("recipient_ai")
	if !receipts.IsSet(recipientAI) {
		WriteBadRequest(w, "recipient_ai is required")
		return
	}

	items, err := h.ledger.Inbox(r.Context(), tenantID, recipientAI, queryInt(r, "limit"))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"receipts": items, "count": len(items)})
}

func (h *LedgerHandler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	order := ledger.OrderAsc
	if r.URL.Query().Get("sort") == "desc" {
		order = ledger.OrderDesc
	}

	items, err := h.ledger.Timeline(r.Context(), tenantID, r.PathValue("task_id"), order)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"receipts": items, "count": len(items)})
}

func (h *LedgerHandler) handleChain(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	items, err := h.ledger.Chain(r.Context(), tenantID, r.PathValue("receipt_id"))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"receipts": items, "count": len(items)})
}

func (h *LedgerHandler) handleArchive(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())
	receiptID := r.PathValue("id")

	archivedAt, err := h.ledger.Archive(r.Context(), tenantID, receiptID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "receipt not found or already archived")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"receipt_id": receiptID, "archived_at": archivedAt})
}

func (h *LedgerHandler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())

	var req struct {
		AgentName string `json:"agent_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if !receipts.IsSet(req.AgentName) {
		WriteBadRequest(w, "agent_name is required")
		return
	}

	result, err := h.ledger.Bootstrap(r.Context(), tenantID, req.AgentName)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *LedgerHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	tenantID := principal.MustTenantID(r.Context())
	q := r.URL.Query()

	items, err := h.ledger.Search(r.Context(), tenantID, ledger.SearchQuery{
		Text:        q.Get("text"),
		RecipientAI: q.Get("recipient_ai"),
		TaskType:    q.Get("task_type"),
		Phase:       receipts.Phase(q.Get("phase")),
		Limit:       queryInt(r, "limit"),
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"receipts": items, "count": len(items)})
}

// queryInt parses an optional integer query parameter; 0 means unset.
func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
