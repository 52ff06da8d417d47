package billing

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/org"
)

// Handler exposes invoice lifecycle endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the invoice endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/invoices", h.Create)
	r.Get("/invoices", h.List)
	r.Get("/invoices/{id}", h.Get)
	r.Patch("/invoices/{id}", h.Update)
	r.Post("/invoices/{id}/status", h.UpdateStatus)
	r.Post("/invoices/{id}/cancel", h.Cancel)
	r.Post("/invoices/ad-hoc", h.CreateAdHoc)
	r.Post("/invoices/parking", h.CreateParking)
}

// Create handles POST /invoices.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var params CreateInvoiceParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	inv, err := h.service.Create(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, inv)
}

// List handles GET /invoices with optional status filter and pagination.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50)
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	rows, err := h.service.List(r.Context(), org.ID(r.Context()), status, perPage, (page-1)*perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, rows)
}

// Get handles GET /invoices/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, inv)
}

// Update handles PATCH /invoices/{id} for content edits.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var params UpdateInvoiceParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	inv, err := h.service.Update(r.Context(), org.ID(r.Context()), id, params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, inv)
}

// UpdateStatus handles POST /invoices/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status InvoiceStatus `json:"status"`
		PaidAt *time.Time    `json:"paidAt,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	inv, err := h.service.UpdateStatus(r.Context(), org.ID(r.Context()), id, body.Status, body.PaidAt)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, inv)
}

// Cancel handles POST /invoices/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Cancel(r.Context(), org.ID(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, inv)
}

// CreateAdHoc handles POST /invoices/ad-hoc.
func (h *Handler) CreateAdHoc(w http.ResponseWriter, r *http.Request) {
	var params CreateAdHocParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	inv, err := h.service.CreateAdHoc(r.Context(), org.ID(r.Context()), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, inv)
}

// CreateParking handles POST /invoices/parking.
func (h *Handler) CreateParking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssignmentID uuid.UUID  `json:"assignmentId"`
		PeriodStart  *time.Time `json:"periodStart,omitempty"`
		PeriodEnd    *time.Time `json:"periodEnd,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	if body.AssignmentID == uuid.Nil {
		common.WriteError(w, common.NewValidationError("assignmentId is required", nil))
		return
	}
	inv, err := h.service.CreateParking(r.Context(), org.ID(r.Context()), body.AssignmentID, body.PeriodStart, body.PeriodEnd)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, inv)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.NewValidationError("invalid id", err))
		return uuid.Nil, false
	}
	return id, true
}
