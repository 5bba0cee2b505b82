package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velorapos/backend/internal/repository"
)

// Handler serves the admin audit log view
type Handler struct {
	repo repository.AuditRepository
}

// NewHandler creates a new audit Handler instance
func NewHandler(repo repository.AuditRepository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes mounts the audit routes. Callers gate them behind
// authentication and an admin role check.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit", h.List)
}

// listResponse is the paged audit listing payload
type listResponse struct {
	Entries []repository.AuditLogEntry `json:"entries"`
	Total   int                        `json:"total"`
	Page    int                        `json:"page"`
	Limit   int                        `json:"limit"`
}

// List returns audit log entries, newest first
// GET /api/v1/audit?page=&limit=&user_id=&action=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := repository.ListAuditParams{
		Page:  queryInt(r, "page", 1),
		Limit: queryInt(r, "limit", 50),
	}

	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
			return
		}
		params.UserID = &id
	}
	if v := r.URL.Query().Get("action"); v != "" {
		action := repository.AuditAction(v)
		params.Action = &action
	}
	if v := r.URL.Query().Get("before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.Before = &t
		}
	}
	if v := r.URL.Query().Get("after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.After = &t
		}
	}

	entries, total, err := h.repo.List(r.Context(), params)
	if err != nil {
		http.Error(w, `{"error":"failed to list audit log"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []repository.AuditLogEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listResponse{
		Entries: entries,
		Total:   total,
		Page:    params.Page,
		Limit:   params.Limit,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
