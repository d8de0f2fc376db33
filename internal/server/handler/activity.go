package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openadx/adexchange/internal/domain"
)

// ActivityService defines the behavioral-data surface the handler requires.
type ActivityService interface {
	CollectActivity(ctx context.Context, userID string, action domain.UserAction) error
}

// ActivityHandler serves user-activity ingestion and segment lookup.
type ActivityHandler struct {
	activity ActivityService
	resolver domain.SegmentResolver
	logger   *slog.Logger
}

// NewActivityHandler creates an ActivityHandler with the given collaborators.
func NewActivityHandler(activity ActivityService, resolver domain.SegmentResolver, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		activity: activity,
		resolver: resolver,
		logger:   logger,
	}
}

// collectRequest is the JSON body accepted by CollectActivity.
type collectRequest struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"` // "page_visit" or "click"
	URL    string `json:"url"`
}

// CollectActivity records one user behavior event for segment derivation.
// POST /api/activity
func (h *ActivityHandler) CollectActivity(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	typ := domain.ActionType(req.Type)
	if typ != domain.ActionPageVisit && typ != domain.ActionClick {
		writeError(w, http.StatusBadRequest, "type must be page_visit or click")
		return
	}

	action := domain.UserAction{
		Type:      typ,
		URL:       req.URL,
		Timestamp: time.Now().UTC(),
	}

	if err := h.activity.CollectActivity(r.Context(), req.UserID, action); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: collect activity failed",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to record activity")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetSegments returns the derived audience segments for a user.
// GET /api/users/{id}/segments
func (h *ActivityHandler) GetSegments(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	segments, err := h.resolver.SegmentsFor(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: segment lookup failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to resolve segments")
		return
	}
	if segments == nil {
		segments = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  id,
		"segments": segments,
	})
}
