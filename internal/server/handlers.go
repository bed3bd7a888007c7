package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stackbirds/invoiceguard/internal/model"
	"github.com/stackbirds/invoiceguard/internal/store"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DecisionFilter{
		Status:        model.DecisionStatus(q.Get("status")),
		VendorID:      q.Get("vendor"),
		InvoiceNumber: q.Get("invoice"),
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	recs, err := s.store.ListDecisions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": recs,
		"count":     len(recs),
	})
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetDecision(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get decision", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "decision not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	vendor := pathParam(r, "vendor")
	item := pathParam(r, "item")

	obs, err := s.store.Observations(r.Context(), vendor, item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list observations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vendor_id":    vendor,
		"item":         item,
		"observations": obs,
		"count":        len(obs),
	})
}

func (s *Server) handleProcessInvoice(w http.ResponseWriter, r *http.Request) {
	var ex model.ExtractionResult
	if err := json.NewDecoder(r.Body).Decode(&ex); err != nil {
		writeError(w, http.StatusBadRequest, "invalid extraction payload", err)
		return
	}
	if ex.Invoice.Number == "" {
		writeError(w, http.StatusBadRequest, "invoice_number is required", nil)
		return
	}

	rec, err := s.processor.Process(r.Context(), ex, "api")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "process invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// pathParam returns a URL path segment with percent-encoding removed, so
// vendor names with spaces survive the round trip.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return 0, false
	}
	return n, true
}
