package analytics

import (
	"net/http"
	"time"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/org"
)

// Handler exposes analytics read endpoints.
type Handler struct {
	Svc *Service
}

// Revenue returns aggregated revenue metrics for the requested range.
func (h *Handler) Revenue(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	orgID, ok := org.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "ORG_REQUIRED", "organization is required", nil)
		return
	}
	query := r.URL.Query()
	fromStr := query.Get("from")
	toStr := query.Get("to")
	now := h.Svc.now()
	var (
		from time.Time
		to   time.Time
		err  error
	)
	if fromStr != "" && toStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid from date", nil)
			return
		}
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid to date", nil)
			return
		}
	} else {
		days := h.Svc.DefaultRange
		if days <= 0 {
			days = 30
		}
		if raw := query.Get("days"); raw != "" {
			parsed := common.AtoiDefault(raw, days)
			if parsed > 0 {
				days = parsed
			}
		}
		to = now
		from = to.AddDate(0, 0, -days)
	}
	if !from.Before(to) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be before to", nil)
		return
	}
	rows, err := h.Svc.RevenueRange(r.Context(), orgID, from, to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// TopUnits returns the units generating the most collected revenue.
func (h *Handler) TopUnits(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	orgID, ok := org.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "ORG_REQUIRED", "organization is required", nil)
		return
	}
	q := r.URL.Query()
	limit := common.AtoiDefault(q.Get("limit"), 10)
	offset := common.AtoiDefault(q.Get("offset"), 0)
	rows, err := h.Svc.TopUnits(r.Context(), orgID, limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Overview aggregates occupancy and receivable metrics for dashboards.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	orgID, ok := org.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "ORG_REQUIRED", "organization is required", nil)
		return
	}
	ov, err := h.Svc.PortfolioOverview(r.Context(), orgID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ov})
}
