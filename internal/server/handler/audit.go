package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openadx/adexchange/internal/domain"
)

// AuditService defines the audit-trail surface the handler requires.
type AuditService interface {
	AuditRecord(ctx context.Context, opportunityID string) (domain.ClearedAuction, error)
	RecentAuditRecords(n int) []domain.ClearedAuction
}

// AuditHandler serves auction audit-trail HTTP endpoints.
type AuditHandler struct {
	audit    AuditService
	archiver domain.Archiver // nil when archival is not configured
	logger   *slog.Logger
}

// NewAuditHandler creates an AuditHandler. A nil archiver disables the
// archive-listing endpoint.
func NewAuditHandler(audit AuditService, archiver domain.Archiver, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:    audit,
		archiver: archiver,
		logger:   logger,
	}
}

// GetRecord returns the audit record for one cleared opportunity.
// GET /api/audit/{opportunityId}
func (h *AuditHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "opportunityId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing opportunity id")
		return
	}

	rec, err := h.audit.AuditRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit record not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get audit record failed",
			slog.String("opportunity_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get audit record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// listAuditResponse wraps the recent-records endpoint output.
type listAuditResponse struct {
	Records []domain.ClearedAuction `json:"records"`
	Total   int                     `json:"total"`
}

// ListRecent returns recent audit records, newest first.
// GET /api/audit/recent?limit=50
func (h *AuditHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	records := h.audit.RecentAuditRecords(opts.Limit)
	writeJSON(w, http.StatusOK, listAuditResponse{
		Records: records,
		Total:   len(records),
	})
}

// listArchivesResponse wraps the archive-listing endpoint output.
type listArchivesResponse struct {
	Archives []domain.BlobInfo `json:"archives"`
	Total    int               `json:"total"`
}

// ListArchives returns metadata for the audit archive files in cold storage.
// GET /api/audit/archives
func (h *AuditHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "audit archival is not configured")
		return
	}

	infos, err := h.archiver.ListArchives(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	writeJSON(w, http.StatusOK, listArchivesResponse{
		Archives: infos,
		Total:    len(infos),
	})
}
