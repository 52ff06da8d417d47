package property

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/org"
	"github.com/noah-isme/backend-properti/internal/rent"
)

// Handler exposes property management endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the property endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/buildings", h.CreateBuilding)
	r.Get("/buildings", h.ListBuildings)
	r.Get("/buildings/{id}", h.GetBuilding)
	r.Patch("/buildings/{id}", h.UpdateBuilding)
	r.Get("/buildings/{id}/units", h.ListUnits)
	r.Put("/buildings/{id}/rent-policy", h.UpdateRentPolicy)
	r.Post("/units", h.CreateUnit)
	r.Get("/units/{id}", h.GetUnit)
	r.Patch("/units/{id}", h.UpdateUnit)
	r.Get("/units/{id}/history", h.UnitHistory)
	r.Post("/tenants", h.CreateTenant)
	r.Get("/tenants/{id}", h.GetTenant)
	r.Get("/tenants/{id}/ledger", h.TenantLedger)
	r.Post("/leases", h.CreateLease)
	r.Get("/leases/{id}", h.GetLease)
	r.Patch("/leases/{id}", h.UpdateLease)
	r.Post("/leases/{id}/terminate", h.TerminateLease)
	r.Post("/work-orders", h.CreateWorkOrder)
	r.Get("/work-orders/{id}", h.GetWorkOrder)
	r.Post("/parking-assignments", h.CreateParkingAssignment)
	r.Get("/parking-assignments/{id}", h.GetParkingAssignment)
}

// CreateBuilding handles POST /buildings.
func (h *Handler) CreateBuilding(w http.ResponseWriter, r *http.Request) {
	var params CreateBuildingParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	b, err := h.service.CreateBuilding(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, b)
}

// ListBuildings handles GET /buildings.
func (h *Handler) ListBuildings(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListBuildings(r.Context(), org.ID(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, rows)
}

// GetBuilding handles GET /buildings/{id}.
func (h *Handler) GetBuilding(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	b, err := h.service.GetBuilding(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, b)
}

// UpdateRentPolicy handles PUT /buildings/{id}/rent-policy. The policy is
// replaced wholesale; a null body clears it.
func (h *Handler) UpdateRentPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		RentPolicy *rent.Policy `json:"rentPolicy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	b, err := h.service.UpdateBuildingRentPolicy(r.Context(), org.ID(r.Context()), id, body.RentPolicy)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, b)
}

// UpdateBuilding handles PATCH /buildings/{id}.
func (h *Handler) UpdateBuilding(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var params UpdateBuildingParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	b, err := h.service.UpdateBuilding(r.Context(), org.ID(r.Context()), id, params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, b)
}

// ListUnits handles GET /buildings/{id}/units with optional floorFrom/floorTo filters.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	floorFrom, err := common.OptionalIntQuery(r, "floorFrom")
	if err != nil {
		common.WriteError(w, common.NewValidationError("floorFrom must be an integer", err))
		return
	}
	floorTo, err := common.OptionalIntQuery(r, "floorTo")
	if err != nil {
		common.WriteError(w, common.NewValidationError("floorTo must be an integer", err))
		return
	}
	rows, err := h.service.ListUnits(r.Context(), org.ID(r.Context()), id, floorFrom, floorTo)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, rows)
}

// CreateUnit handles POST /units.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var params CreateUnitParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	u, err := h.service.CreateUnit(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, u)
}

// GetUnit handles GET /units/{id}.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	u, err := h.service.GetUnit(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, u)
}

// UpdateUnit handles PATCH /units/{id}.
func (h *Handler) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var params UpdateUnitParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	u, err := h.service.UpdateUnit(r.Context(), org.ID(r.Context()), id, params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, u)
}

// UnitHistory handles GET /units/{id}/history.
func (h *Handler) UnitHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetUnitHistory(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, entries)
}

// CreateTenant handles POST /tenants.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var params CreateTenantParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	t, err := h.service.CreateTenant(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, t)
}

// GetTenant handles GET /tenants/{id}.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	t, err := h.service.GetTenant(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, t)
}

// TenantLedger handles GET /tenants/{id}/ledger.
func (h *Handler) TenantLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	ledger, err := h.service.GetTenantLedger(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, ledger)
}

// CreateLease handles POST /leases.
func (h *Handler) CreateLease(w http.ResponseWriter, r *http.Request) {
	var params CreateLeaseParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	l, err := h.service.CreateLease(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, l)
}

// GetLease handles GET /leases/{id}.
func (h *Handler) GetLease(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	l, err := h.service.GetLease(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, l)
}

// UpdateLease handles PATCH /leases/{id}.
func (h *Handler) UpdateLease(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var params UpdateLeaseParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	l, err := h.service.UpdateLease(r.Context(), org.ID(r.Context()), id, params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, l)
}

// TerminateLease handles POST /leases/{id}/terminate.
func (h *Handler) TerminateLease(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		EndDate *time.Time `json:"endDate,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			common.WriteError(w, common.NewValidationError("invalid json body", err))
			return
		}
	}
	endDate := time.Now()
	if body.EndDate != nil {
		endDate = *body.EndDate
	}
	if err := h.service.TerminateLease(r.Context(), org.ID(r.Context()), id, endDate); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{"status": string(LeaseStatusTerminated)})
}

// CreateWorkOrder handles POST /work-orders.
func (h *Handler) CreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var params CreateWorkOrderParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	wo, err := h.service.CreateWorkOrder(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, wo)
}

// GetWorkOrder handles GET /work-orders/{id}.
func (h *Handler) GetWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	wo, err := h.service.GetWorkOrder(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, wo)
}

// CreateParkingAssignment handles POST /parking-assignments.
func (h *Handler) CreateParkingAssignment(w http.ResponseWriter, r *http.Request) {
	var params CreateParkingAssignmentParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	p, err := h.service.CreateParkingAssignment(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, p)
}

// GetParkingAssignment handles GET /parking-assignments/{id}.
func (h *Handler) GetParkingAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetParkingAssignment(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, p)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.NewValidationError("invalid id", err))
		return uuid.Nil, false
	}
	return id, true
}
