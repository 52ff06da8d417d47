package payment

import (
	"context"
	"net/http"
)

// IntentRequest captures the information required to open a checkout session
// with a provider.
type IntentRequest struct {
	InvoiceNumber   string
	Amount          float64
	Currency        string
	ExpiresAtSec    int
	CallbackBaseURL string
}

// IntentResponse is the minimal information a provider returns when a
// checkout session is opened.
type IntentResponse struct {
	Provider    string
	TxRef       string
	CheckoutURL string
	ExpiresAt   int64
}

// WebhookVerifyResult contains the normalised data extracted from a webhook
// notification after signature verification.
type WebhookVerifyResult struct {
	Valid           bool
	EventID         string
	InvoiceNumber   string
	Amount          float64
	Status          string
	ProviderPayload []byte
	Err             error
}

// Normalised webhook statuses shared across providers.
const (
	StatusPaid    = "paid"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// Provider abstracts the operations required from an upstream payment provider.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}
