package rent

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/org"
)

// Handler exposes rent resolution and bulk update endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the rent endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/rent/resolve", h.ResolveRent)
	r.Post("/rent/bulk-update", h.BulkUpdate)
}

// ResolveRent handles POST /rent/resolve. It runs the resolver against a
// supplied policy and unit without touching storage, so staff can sanity
// check pricing before an apply run.
func (h *Handler) ResolveRent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Policy Policy         `json:"policy"`
		Unit   UnitAttributes `json:"unit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	resolution := Resolve(body.Policy, body.Unit, h.service.decimals)
	common.JSONData(w, http.StatusOK, resolution)
}

// BulkUpdate handles POST /rent/bulk-update for both preview and apply runs.
func (h *Handler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var params BulkUpdateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	if params.BuildingID == uuid.Nil {
		common.WriteError(w, common.NewValidationError("buildingId is required", nil))
		return
	}
	result, err := h.service.BulkUpdate(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, result)
}
