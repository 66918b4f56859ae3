package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/apierr"
	"github.com/nodequota/ratelimit/override"
)

// OverrideHandler exposes the administrative override CRUD surface:
// set, get, list (cursor-paginated), and delete.
type OverrideHandler struct {
	resolver *override.Resolver
	logger   zerolog.Logger
}

// NewOverrideHandler builds an OverrideHandler.
func NewOverrideHandler(resolver *override.Resolver, logger zerolog.Logger) *OverrideHandler {
	return &OverrideHandler{resolver: resolver, logger: logger.With().Str("component", "override_handler").Logger()}
}

type setOverrideRequest struct {
	Pattern    string `json:"pattern"`
	Limit      int64  `json:"limit"`
	DurationMs int64  `json:"duration_ms"`
	AsyncMode  bool   `json:"async_mode"`
	Sharding   string `json:"sharding"`
}

type overrideResponse struct {
	ID         string `json:"id"`
	Pattern    string `json:"pattern"`
	Limit      int64  `json:"limit"`
	DurationMs int64  `json:"duration_ms"`
	AsyncMode  bool   `json:"async_mode"`
	Sharding   string `json:"sharding"`
}

func toOverrideResponse(o override.Override) overrideResponse {
	return overrideResponse{ID: o.ID, Pattern: o.Pattern, Limit: o.Limit, DurationMs: o.DurationMs, AsyncMode: o.AsyncMode, Sharding: o.Sharding}
}

// SetOverride handles POST /v1/namespaces/{namespaceID}/overrides.
func (h *OverrideHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	namespaceID := chi.URLParam(r, "namespaceID")

	var req setOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeBadRequest, "malformed request body", err))
		return
	}
	if req.Pattern == "" {
		apierr.WriteError(w, apierr.New(apierr.CodeBadRequest, "pattern is required", nil))
		return
	}

	o, err := h.resolver.SetOverride(r.Context(), namespaceID, req.Pattern, req.Limit, req.DurationMs, req.AsyncMode, req.Sharding)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeInternal, "failed to set override", err))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, toOverrideResponse(o))
}

// GetOverride handles GET /v1/namespaces/{namespaceID}/overrides/{pattern}.
func (h *OverrideHandler) GetOverride(w http.ResponseWriter, r *http.Request) {
	namespaceID := chi.URLParam(r, "namespaceID")
	pattern := chi.URLParam(r, "pattern")

	o, err := h.resolver.GetOverride(r.Context(), namespaceID, pattern)
	if err != nil {
		if err == override.ErrNotFound {
			apierr.WriteError(w, apierr.New(apierr.CodeNotFound, "override not found", err))
			return
		}
		apierr.WriteError(w, apierr.New(apierr.CodeInternal, "failed to get override", err))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, toOverrideResponse(o))
}

// ListOverrides handles GET /v1/namespaces/{namespaceID}/overrides.
func (h *OverrideHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	namespaceID := chi.URLParam(r, "namespaceID")
	cursor := r.URL.Query().Get("cursor")
	pageSize := 100

	page, err := h.resolver.ListOverrides(r.Context(), namespaceID, cursor, pageSize)
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeInternal, "failed to list overrides", err))
		return
	}

	items := make([]overrideResponse, 0, len(page.Overrides))
	for _, o := range page.Overrides {
		items = append(items, toOverrideResponse(o))
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"overrides":   items,
		"next_cursor": page.NextCursor,
	})
}

// DeleteOverride handles DELETE /v1/namespaces/{namespaceID}/overrides/{pattern}.
func (h *OverrideHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	namespaceID := chi.URLParam(r, "namespaceID")
	pattern := chi.URLParam(r, "pattern")

	if err := h.resolver.DeleteOverride(r.Context(), namespaceID, pattern); err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeInternal, "failed to delete override", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
