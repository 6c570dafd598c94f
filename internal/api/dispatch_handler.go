package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alecgard/teambeat/internal/dispatch"
)

// DispatchRunner runs a dispatch pass. *dispatch.Dispatcher implements it.
type DispatchRunner interface {
	Run(ctx context.Context, teamIDs ...string) (*dispatch.Summary, error)
}

type dispatchHandler struct {
	runner DispatchRunner
}

func newDispatchHandler(runner DispatchRunner) *dispatchHandler {
	return &dispatchHandler{runner: runner}
}

type dispatchRequest struct {
	TeamIDs []string `json:"team_ids"`
}

// Run handles POST /api/v1/admin/dispatch. With no team_ids every due team
// is processed. The body is optional.
func (h *dispatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
			return
		}
	}

	sum, err := h.runner.Run(r.Context(), req.TeamIDs...)
	if err != nil {
		slog.Error("dispatch failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal_error", "dispatch failed")
		return
	}

	auditLog(r, "dispatch", "dispatch", "", "closed", sum.Closed, "opened", sum.Opened, "errors", sum.Errors)
	writeJSON(w, http.StatusOK, sum)
}
