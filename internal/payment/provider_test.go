package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChapaVerifyWebhook(t *testing.T) {
	chapa := Chapa{WebhookSecret: "chapa-secret"}
	body, err := json.Marshal(map[string]any{
		"event":     "charge.success",
		"tx_ref":    "INV-2026-001",
		"reference": "chewata-123",
		"amount":    25000.0,
		"status":    "success",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/payments/webhook/meskel/chapa", bytes.NewReader(body))
	req.Header.Set("Chapa-Signature", chapa.computeSignature(body))

	result, err := chapa.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, "INV-2026-001", result.InvoiceNumber)
	require.Equal(t, "chewata-123", result.EventID)
	require.Equal(t, StatusPaid, result.Status)
	require.InDelta(t, 25000.0, result.Amount, 1e-9)
}

func TestChapaRejectsBadSignature(t *testing.T) {
	chapa := Chapa{WebhookSecret: "chapa-secret"}
	body := []byte(`{"tx_ref":"INV-2026-001","amount":100,"status":"success"}`)

	req := httptest.NewRequest("POST", "/payments/webhook/meskel/chapa", bytes.NewReader(body))
	req.Header.Set("Chapa-Signature", "deadbeef")

	result, err := chapa.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestTelebirrVerifyWebhook(t *testing.T) {
	tb := Telebirr{AppSecret: "telebirr-secret"}
	sign := tb.ComputeSignature("INV-2026-002", "1200.00", "1756700000")
	body, err := json.Marshal(map[string]any{
		"outTradeNo":  "INV-2026-002",
		"tradeNo":     "TB-789",
		"totalAmount": "1200.00",
		"tradeStatus": "Completed",
		"timestamp":   "1756700000",
		"sign":        sign,
	})
	require.NoError(t, err)

	result, err := tb.VerifyWebhook(nil, body)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, "INV-2026-002", result.InvoiceNumber)
	require.Equal(t, "TB-789", result.EventID)
	require.Equal(t, StatusPaid, result.Status)
	require.InDelta(t, 1200.0, result.Amount, 1e-9)
}

func TestTelebirrRejectsTamperedAmount(t *testing.T) {
	tb := Telebirr{AppSecret: "telebirr-secret"}
	sign := tb.ComputeSignature("INV-2026-002", "1200.00", "1756700000")
	body := []byte(fmt.Sprintf(`{"outTradeNo":"INV-2026-002","totalAmount":"9999.00","tradeStatus":"Completed","timestamp":"1756700000","sign":"%s"}`, sign))

	result, err := tb.VerifyWebhook(nil, body)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestStatusNormalisation(t *testing.T) {
	require.Equal(t, StatusFailed, normaliseChapaStatus("Failed"))
	require.Equal(t, StatusPending, normaliseChapaStatus("created"))
	require.Equal(t, StatusFailed, normaliseTelebirrStatus("Failure"))
	require.Equal(t, StatusPending, normaliseTelebirrStatus("Paying"))
}

func TestChapaCreateIntent(t *testing.T) {
	chapa := Chapa{WebhookSecret: "chapa-secret"}
	resp, err := chapa.CreateIntent(context.Background(), IntentRequest{
		InvoiceNumber: "INV-2026-020",
		Amount:        1725,
		Currency:      "ETB",
		ExpiresAtSec:  600,
	})
	require.NoError(t, err)
	require.Equal(t, "chapa", resp.Provider)
	require.Equal(t, "INV-2026-020", resp.TxRef)
	require.True(t, strings.HasPrefix(resp.CheckoutURL, "https://checkout.chapa.co/checkout/payment/"))
	require.Greater(t, resp.ExpiresAt, time.Now().Unix())

	again, err := chapa.CreateIntent(context.Background(), IntentRequest{InvoiceNumber: "INV-2026-020", ExpiresAtSec: 600})
	require.NoError(t, err)
	require.Equal(t, resp.CheckoutURL, again.CheckoutURL)
}

func TestChapaCreateIntentRequiresSecret(t *testing.T) {
	chapa := Chapa{}
	_, err := chapa.CreateIntent(context.Background(), IntentRequest{InvoiceNumber: "INV-2026-021"})
	require.Error(t, err)
}

func TestTelebirrCreateIntent(t *testing.T) {
	tb := Telebirr{AppSecret: "telebirr-secret"}
	resp, err := tb.CreateIntent(context.Background(), IntentRequest{
		InvoiceNumber: "INV-2026-022",
		Amount:        1725,
		Currency:      "ETB",
		ExpiresAtSec:  600,
	})
	require.NoError(t, err)
	require.Equal(t, "telebirr", resp.Provider)
	require.Equal(t, "INV-2026-022", resp.TxRef)
	require.Contains(t, resp.CheckoutURL, "outTradeNo=INV-2026-022")
	require.Contains(t, resp.CheckoutURL, "totalAmount=1725.00")
	require.Contains(t, resp.CheckoutURL, "sign=")
}
