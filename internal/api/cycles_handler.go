package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/teambeat/internal/checkin"
	"github.com/alecgard/teambeat/internal/deliverylog"
	"github.com/alecgard/teambeat/internal/team"
)

// HistoryService reads report history. *checkin.History implements it.
type HistoryService interface {
	ListCycles(ctx context.Context, teamID, cursor string) (*checkin.CyclePage, error)
	Report(ctx context.Context, cycleID, viewerID string) (*checkin.ReportView, error)
	OpenForUser(ctx context.Context, userID string) ([]checkin.OpenItem, error)
	FreshLink(ctx context.Context, userID, submissionID, next string) (string, error)
}

// DeliveryReader reads the delivery log. *deliverylog.Store implements it.
type DeliveryReader interface {
	ListByCycle(ctx context.Context, cycleID string) ([]*deliverylog.Delivery, error)
	Summarize(ctx context.Context, cycleID string) (*deliverylog.Summary, error)
}

// cyclesHandler groups cycle history and per-user handlers.
type cyclesHandler struct {
	history    HistoryService
	deliveries DeliveryReader
}

func newCyclesHandler(history HistoryService, deliveries DeliveryReader) *cyclesHandler {
	return &cyclesHandler{history: history, deliveries: deliveries}
}

// ListCycles handles GET /api/v1/admin/teams/{teamID}/cycles?cursor=.
func (h *cyclesHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	page, err := h.history.ListCycles(r.Context(), chi.URLParam(r, "teamID"), r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, checkin.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid_cursor", "cursor is not valid")
			return
		}
		writeServiceError(w, err, "team", "failed to list cycles")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetReport handles GET /api/v1/admin/cycles/{cycleID}/report. With
// ?member= the report is rendered as that member receives it.
func (h *cyclesHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	view, err := h.history.Report(r.Context(), chi.URLParam(r, "cycleID"), r.URL.Query().Get("member"))
	if err != nil {
		writeServiceError(w, err, "cycle", "failed to render report")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type deliveriesResponse struct {
	Deliveries []*deliverylog.Delivery `json:"deliveries"`
	Summary    *deliverylog.Summary    `json:"summary"`
}

// ListDeliveries handles GET /api/v1/admin/cycles/{cycleID}/deliveries.
func (h *cyclesHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cycleID")

	list, err := h.deliveries.ListByCycle(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list deliveries")
		return
	}
	sum, err := h.deliveries.Summarize(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to summarize deliveries")
		return
	}
	if list == nil {
		list = []*deliverylog.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveriesResponse{Deliveries: list, Summary: sum})
}

// OpenForUser handles GET /api/v1/admin/users/{userID}/open.
func (h *cyclesHandler) OpenForUser(w http.ResponseWriter, r *http.Request) {
	items, err := h.history.OpenForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list open cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": items})
}

type freshLinkRequest struct {
	Next string `json:"next"`
}

// FreshLink handles POST /api/v1/admin/users/{userID}/submissions/{submissionID}/link.
// The body is optional.
func (h *cyclesHandler) FreshLink(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	submissionID := chi.URLParam(r, "submissionID")

	var req freshLinkRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
			return
		}
	}

	link, err := h.history.FreshLink(r.Context(), userID, submissionID, req.Next)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) || errors.Is(err, team.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no open submission for this user")
			return
		}
		slog.Error("issuing fresh link failed", "submission_id", submissionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue link")
		return
	}

	auditLog(r, "issue_link", "submission", submissionID, "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}
