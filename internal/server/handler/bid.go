package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openadx/adexchange/internal/domain"
)

// BidService defines the methods the bid handler requires from the service
// layer. It is declared locally so the handler package does not depend on the
// concrete service implementation.
type BidService interface {
	RequestBid(ctx context.Context, imp domain.ImpressionContext) (domain.Offer, bool, error)
}

// BidHandler serves the bid-request endpoint.
type BidHandler struct {
	exchange BidService
	logger   *slog.Logger
}

// NewBidHandler creates a BidHandler with the given service and logger.
func NewBidHandler(exchange BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		exchange: exchange,
		logger:   logger,
	}
}

// bidRequest is the JSON body accepted by RequestBid.
type bidRequest struct {
	PlacementID string `json:"placement_id"`
	UserID      string `json:"user_id"`
	DeviceType  string `json:"device_type"`
	Geo         string `json:"geo"`
}

// bidResponse wraps a filled bid; for a no-fill only Filled is set.
type bidResponse struct {
	Filled        bool    `json:"filled"`
	OpportunityID string  `json:"opportunity_id,omitempty"`
	BidderID      string  `json:"bidder_id,omitempty"`
	Price         float64 `json:"price,omitempty"`
	CreativeID    string  `json:"creative_id,omitempty"`
	CreativeType  string  `json:"creative_type,omitempty"`
	Content       string  `json:"content,omitempty"`
	BrandName     string  `json:"brand_name,omitempty"`
}

// RequestBid runs one auction for an impression and returns the winning
// creative, or filled=false when no bidder cleared the floor.
// POST /api/bid
func (h *BidHandler) RequestBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PlacementID == "" {
		writeError(w, http.StatusBadRequest, "missing placement_id")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	imp := domain.ImpressionContext{
		PlacementID: req.PlacementID,
		UserID:      req.UserID,
		DeviceType:  req.DeviceType,
		Geo:         req.Geo,
		Timestamp:   time.Now().UTC(),
	}

	offer, filled, err := h.exchange.RequestBid(r.Context(), imp)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownPlacement):
			writeError(w, http.StatusNotFound, "unknown placement "+req.PlacementID)
		case errors.Is(err, domain.ErrContextDone), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "bid request cancelled")
		default:
			h.logger.ErrorContext(r.Context(), "handler: bid request failed",
				slog.String("placement_id", req.PlacementID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "bid request failed")
		}
		return
	}

	if !filled {
		writeJSON(w, http.StatusOK, bidResponse{Filled: false})
		return
	}

	writeJSON(w, http.StatusOK, bidResponse{
		Filled:        true,
		OpportunityID: offer.OpportunityID,
		BidderID:      offer.BidderID,
		Price:         offer.Price,
		CreativeID:    offer.Creative.ID,
		CreativeType:  offer.Creative.Type,
		Content:       offer.Creative.Content,
		BrandName:     offer.Creative.BrandName,
	})
}
