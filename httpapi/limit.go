package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/apierr"
	"github.com/nodequota/ratelimit/limiter"
)

// limitRequest is the wire Limit request payload.
type limitRequest struct {
	WorkspaceID     string `json:"workspace_id"`
	Namespace       string `json:"namespace"`
	Identifier      string `json:"identifier"`
	Limit           int64  `json:"limit"`
	Duration        int64  `json:"duration"`
	Cost            *int64 `json:"cost"`
	Async           bool   `json:"async"`
	Sharding        string `json:"sharding"`
	CreateNamespace bool   `json:"create_namespace"`
}

// limitResponse is the wire Limit response payload.
type limitResponse struct {
	Success    bool   `json:"success"`
	Limit      int64  `json:"limit"`
	Remaining  int64  `json:"remaining"`
	Reset      int64  `json:"reset"`
	OverrideID string `json:"overrideId"`
}

// LimitHandler serves POST /v1/limit.
type LimitHandler struct {
	coordinator *limiter.Coordinator
	logger      zerolog.Logger
}

// NewLimitHandler builds a LimitHandler.
func NewLimitHandler(coordinator *limiter.Coordinator, logger zerolog.Logger) *LimitHandler {
	return &LimitHandler{coordinator: coordinator, logger: logger.With().Str("component", "limit_handler").Logger()}
}

func (h *LimitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeBadRequest, "malformed request body", err))
		return
	}

	if v, ok := validate(req); !ok {
		apierr.WriteError(w, apierr.New(apierr.CodeBadRequest, v, nil))
		return
	}

	cost := int64(1)
	if req.Cost != nil {
		cost = *req.Cost
	}

	res, err := h.coordinator.Limit(r.Context(), limiter.Request{
		WorkspaceID:     req.WorkspaceID,
		Namespace:       req.Namespace,
		Identifier:      req.Identifier,
		Limit:           req.Limit,
		Duration:        time.Duration(req.Duration) * time.Millisecond,
		Cost:            cost,
		Async:           req.Async,
		Sharding:        req.Sharding,
		CreateNamespace: req.CreateNamespace,
	})
	if err != nil {
		var apiErr *apierr.Error
		if apierr.As(err, &apiErr) {
			apierr.WriteError(w, apiErr)
			return
		}
		apierr.WriteError(w, apierr.New(apierr.CodeInternal, "unexpected failure", err))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, limitResponse{
		Success:    res.Success,
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		Reset:      res.ResetAt.UnixMilli(),
		OverrideID: res.OverrideID,
	})
}

func validate(req limitRequest) (string, bool) {
	switch {
	case req.Namespace == "" || len(req.Namespace) > 255:
		return "namespace must be 1..255 characters", false
	case req.Identifier == "" || len(req.Identifier) > 255:
		return "identifier must be 1..255 characters", false
	case req.Limit < 1:
		return "limit must be >= 1", false
	case req.Duration < 1000 || req.Duration > 86_400_000:
		return "duration must be between 1000 and 86400000 ms", false
	case req.Cost != nil && *req.Cost < 0:
		return "cost must be >= 0", false
	}
	return "", true
}
