package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openadx/adexchange/internal/domain"
)

// BidderService defines the bidder-registration surface the handler requires
// from the service layer.
type BidderService interface {
	RegisterBidder(ctx context.Context, id, name string, budgetCap float64, pricingName string, creatives []domain.Creative) error
	RegisterCreative(ctx context.Context, bidderID string, c domain.Creative) error
	BidderProfile(id string) (domain.BidderProfile, error)
	BidderProfiles() []domain.BidderProfile
}

// BidderHandler serves bidder-management HTTP endpoints.
type BidderHandler struct {
	bidders BidderService
	logger  *slog.Logger
}

// NewBidderHandler creates a BidderHandler with the given service and logger.
func NewBidderHandler(bidders BidderService, logger *slog.Logger) *BidderHandler {
	return &BidderHandler{
		bidders: bidders,
		logger:  logger,
	}
}

// creativePayload is the JSON shape of one creative in requests.
type creativePayload struct {
	ID             string   `json:"id"`
	AdvertiserID   string   `json:"advertiser_id"`
	Type           string   `json:"type"`
	Size           string   `json:"size"`
	Content        string   `json:"content"`
	TargetSegments []string `json:"target_segments"`
	Categories     []string `json:"categories"`
	BrandName      string   `json:"brand_name"`
}

func (p creativePayload) toDomain() domain.Creative {
	return domain.Creative{
		ID:             p.ID,
		AdvertiserID:   p.AdvertiserID,
		Type:           p.Type,
		Size:           p.Size,
		Content:        p.Content,
		TargetSegments: p.TargetSegments,
		Categories:     p.Categories,
		BrandName:      p.BrandName,
	}
}

// registerBidderRequest is the JSON body accepted by RegisterBidder. The new
// bidder joins every coordinator automatically.
type registerBidderRequest struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	BudgetCap float64           `json:"budget_cap"`
	Pricing   string            `json:"pricing"`
	Creatives []creativePayload `json:"creatives"`
}

// RegisterBidder creates a demand-side bidder with a budget cap and an
// optional initial creative set.
// POST /api/bidders
func (h *BidderHandler) RegisterBidder(w http.ResponseWriter, r *http.Request) {
	var req registerBidderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing bidder id")
		return
	}
	if req.BudgetCap <= 0 {
		writeError(w, http.StatusBadRequest, "budget_cap must be positive")
		return
	}

	creatives := make([]domain.Creative, 0, len(req.Creatives))
	for _, c := range req.Creatives {
		creatives = append(creatives, c.toDomain())
	}

	if err := h.bidders.RegisterBidder(r.Context(), req.ID, req.Name, req.BudgetCap, req.Pricing, creatives); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "bidder already exists")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: register bidder failed",
			slog.String("bidder_id", req.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := h.bidders.BidderProfile(req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load bidder profile")
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// RegisterCreative adds a creative to an existing bidder's inventory.
// POST /api/bidders/{id}/creatives
func (h *BidderHandler) RegisterCreative(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bidder id")
		return
	}

	var req creativePayload
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing creative id")
		return
	}

	if err := h.bidders.RegisterCreative(r.Context(), id, req.toDomain()); err != nil {
		if errors.Is(err, domain.ErrUnknownBidder) {
			writeError(w, http.StatusNotFound, "bidder not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: register creative failed",
			slog.String("bidder_id", id),
			slog.String("creative_id", req.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to register creative")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"bidder_id":   id,
		"creative_id": req.ID,
	})
}

// listBiddersResponse wraps the list endpoint output.
type listBiddersResponse struct {
	Bidders []domain.BidderProfile `json:"bidders"`
	Total   int                    `json:"total"`
}

// ListBidders returns every registered bidder profile.
// GET /api/bidders
func (h *BidderHandler) ListBidders(w http.ResponseWriter, r *http.Request) {
	profiles := h.bidders.BidderProfiles()
	writeJSON(w, http.StatusOK, listBiddersResponse{
		Bidders: profiles,
		Total:   len(profiles),
	})
}

// GetBidder returns a single bidder profile by id.
// GET /api/bidders/{id}
func (h *BidderHandler) GetBidder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bidder id")
		return
	}

	profile, err := h.bidders.BidderProfile(id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownBidder) || errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bidder not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get bidder")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
