package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Chapa implements the Provider interface for Chapa payment notifications.
// Chapa signs the raw request body with HMAC-SHA256 using the webhook secret
// and sends the hex digest in the Chapa-Signature header.
type Chapa struct {
	WebhookSecret string
	CheckoutBase  string
}

// CreateIntent opens a hosted-checkout session. The tx_ref embeds the invoice
// number so the webhook can route the settlement back; the token is derived
// deterministically so retried intent calls map to the same session.
func (c Chapa) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.InvoiceNumber) == "" {
		return IntentResponse{}, errors.New("invoice number is required")
	}
	token := c.computeSignature([]byte(req.InvoiceNumber))
	if token == "" {
		return IntentResponse{}, errors.New("webhook secret is not configured")
	}
	expiresAt := time.Now().Add(time.Duration(req.ExpiresAtSec) * time.Second)
	return IntentResponse{
		Provider:    "chapa",
		TxRef:       req.InvoiceNumber,
		CheckoutURL: fmt.Sprintf("%s/checkout/payment/%s", strings.TrimRight(c.checkoutHost(), "/"), token[:32]),
		ExpiresAt:   expiresAt.Unix(),
	}, nil
}

func (c Chapa) checkoutHost() string {
	host := strings.TrimSpace(c.CheckoutBase)
	if host == "" {
		return "https://checkout.chapa.co"
	}
	return host
}

// VerifyWebhook validates the Chapa signature and normalises the payload.
func (c Chapa) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	provided := strings.TrimSpace(r.Header.Get("Chapa-Signature"))
	if provided == "" {
		provided = strings.TrimSpace(r.Header.Get("X-Chapa-Signature"))
	}
	expected := c.computeSignature(body)
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		Event     string  `json:"event"`
		TxRef     string  `json:"tx_ref"`
		Reference string  `json:"reference"`
		Amount    float64 `json:"amount"`
		Status    string  `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	if strings.TrimSpace(payload.TxRef) == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing tx_ref")}, nil
	}
	eventID := strings.TrimSpace(payload.Reference)
	if eventID == "" {
		eventID = payload.TxRef
	}
	return WebhookVerifyResult{
		Valid:           true,
		EventID:         eventID,
		InvoiceNumber:   strings.TrimSpace(payload.TxRef),
		Amount:          payload.Amount,
		Status:          normaliseChapaStatus(payload.Status),
		ProviderPayload: body,
	}, nil
}

func (c Chapa) computeSignature(body []byte) string {
	key := strings.TrimSpace(c.WebhookSecret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func normaliseChapaStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful", "paid":
		return StatusPaid
	case "failed", "cancelled", "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}
