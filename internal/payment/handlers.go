package payment

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/org"
)

// Intents exposes the checkout intent endpoint to authenticated clients.
type Intents struct {
	Service *Service
}

// Create handles POST /payments/intent.
func (h Intents) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InvoiceID uuid.UUID `json:"invoiceId"`
		Provider  string    `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.WriteError(w, common.NewValidationError("invalid json body", err))
		return
	}
	if body.InvoiceID == uuid.Nil {
		common.WriteError(w, common.NewValidationError("invoiceId is required", nil))
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(body.Provider))
	intent, err := h.Service.CreateIntent(r.Context(), org.ID(r.Context()), body.InvoiceID, providerKey)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, intent)
}

// Webhook handles payment provider callbacks. The organization slug comes from
// the callback URL registered with the provider, not from a bearer token.
type Webhook struct {
	Service   *Service
	Providers map[string]Provider
}

// Routes mounts the provider callback endpoint on a chi router.
func (h Webhook) Routes(r chi.Router) {
	r.Post("/payments/webhook/{org}/{provider}", h.Handle)
}

// Handle processes webhook callbacks for the configured payment provider(s).
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil || h.Providers == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	orgID := strings.TrimSpace(chi.URLParam(r, "org"))
	if orgID == "" {
		common.JSONError(w, http.StatusBadRequest, "ORG_REQUIRED", "organization is required", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := h.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	result, err := provider.VerifyWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	ctx := org.WithOrg(r.Context(), orgID)
	if err := h.Service.ProcessWebhook(ctx, orgID, providerKey, result); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"received": true})
}
