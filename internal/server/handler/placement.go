package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/openadx/adexchange/internal/domain"
)

// PlacementService defines the placement-catalog surface the handler requires.
type PlacementService interface {
	RegisterPlacement(p domain.Placement) error
	Placement(id string) (domain.Placement, error)
	Placements() []domain.Placement
}

// PlacementHandler serves placement-catalog HTTP endpoints.
type PlacementHandler struct {
	placements PlacementService
	logger     *slog.Logger
}

// NewPlacementHandler creates a PlacementHandler with the given service and
// logger.
func NewPlacementHandler(placements PlacementService, logger *slog.Logger) *PlacementHandler {
	return &PlacementHandler{
		placements: placements,
		logger:     logger,
	}
}

// registerPlacementRequest is the JSON body accepted by RegisterPlacement.
type registerPlacementRequest struct {
	ID          string   `json:"id"`
	PublisherID string   `json:"publisher_id"`
	Size        string   `json:"size"`
	Type        string   `json:"type"`
	Position    string   `json:"position"`
	FloorPrice  float64  `json:"floor_price"`
	Section     string   `json:"section"`
	ContentType string   `json:"content_type"`
	Categories  []string `json:"categories"`
	Keywords    []string `json:"keywords"`
	Sensitive   bool     `json:"sensitive"`
	Excluded    []string `json:"excluded_categories"`
}

// RegisterPlacement adds an ad slot to the catalog.
// POST /api/placements
func (h *PlacementHandler) RegisterPlacement(w http.ResponseWriter, r *http.Request) {
	var req registerPlacementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p := domain.Placement{
		ID:          req.ID,
		PublisherID: req.PublisherID,
		Size:        req.Size,
		Type:        req.Type,
		Position:    req.Position,
		FloorPrice:  req.FloorPrice,
		Context: domain.PlacementContext{
			Section:     req.Section,
			ContentType: req.ContentType,
			Categories:  req.Categories,
			Keywords:    req.Keywords,
			BrandSafety: domain.BrandSafety{
				Sensitive:          req.Sensitive,
				ExcludedCategories: req.Excluded,
			},
		},
	}

	if err := h.placements.RegisterPlacement(p); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "placement already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// listPlacementsResponse wraps the list endpoint output.
type listPlacementsResponse struct {
	Placements []domain.Placement `json:"placements"`
	Total      int                `json:"total"`
}

// ListPlacements returns every registered placement.
// GET /api/placements
func (h *PlacementHandler) ListPlacements(w http.ResponseWriter, r *http.Request) {
	placements := h.placements.Placements()
	writeJSON(w, http.StatusOK, listPlacementsResponse{
		Placements: placements,
		Total:      len(placements),
	})
}

// GetPlacement returns a single placement by id.
// GET /api/placements/{id}
func (h *PlacementHandler) GetPlacement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing placement id")
		return
	}

	p, err := h.placements.Placement(id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPlacement) {
			writeError(w, http.StatusNotFound, "placement not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get placement failed",
			slog.String("placement_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get placement")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
