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
	"strconv"
	"strings"
	"time"
)

// Telebirr implements the Provider interface for telebirr payment notifications.
// The notification carries a sign field computed as HMAC-SHA256 over
// "<outTradeNo>.<totalAmount>.<timestamp>" using the app secret.
type Telebirr struct {
	AppSecret string
	PayBase   string
}

// CreateIntent opens an H5 checkout session. outTradeNo carries the invoice
// number so the notification can be routed back to it.
func (t Telebirr) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.InvoiceNumber) == "" {
		return IntentResponse{}, errors.New("invoice number is required")
	}
	amount := strconv.FormatFloat(req.Amount, 'f', 2, 64)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sign := t.computeSignature(req.InvoiceNumber, amount, timestamp)
	if sign == "" {
		return IntentResponse{}, errors.New("app secret is not configured")
	}
	expiresAt := time.Now().Add(time.Duration(req.ExpiresAtSec) * time.Second)
	return IntentResponse{
		Provider: "telebirr",
		TxRef:    req.InvoiceNumber,
		CheckoutURL: fmt.Sprintf("%s/h5pay?outTradeNo=%s&totalAmount=%s&timestamp=%s&sign=%s",
			strings.TrimRight(t.payHost(), "/"), req.InvoiceNumber, amount, timestamp, sign),
		ExpiresAt: expiresAt.Unix(),
	}, nil
}

func (t Telebirr) payHost() string {
	host := strings.TrimSpace(t.PayBase)
	if host == "" {
		return "https://app.telebirr.et"
	}
	return host
}

// VerifyWebhook validates the telebirr signature and normalises the payload.
func (t Telebirr) VerifyWebhook(_ *http.Request, body []byte) (WebhookVerifyResult, error) {
	var payload struct {
		OutTradeNo  string `json:"outTradeNo"`
		TradeNo     string `json:"tradeNo"`
		TotalAmount string `json:"totalAmount"`
		TradeStatus string `json:"tradeStatus"`
		Timestamp   string `json:"timestamp"`
		Sign        string `json:"sign"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	if strings.TrimSpace(payload.OutTradeNo) == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing outTradeNo")}, nil
	}

	expected := t.computeSignature(payload.OutTradeNo, payload.TotalAmount, payload.Timestamp)
	provided := strings.TrimSpace(payload.Sign)
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(payload.TotalAmount), 64)
	if err != nil {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid totalAmount")}, nil
	}
	eventID := strings.TrimSpace(payload.TradeNo)
	if eventID == "" {
		eventID = payload.OutTradeNo
	}
	return WebhookVerifyResult{
		Valid:           true,
		EventID:         eventID,
		InvoiceNumber:   strings.TrimSpace(payload.OutTradeNo),
		Amount:          amount,
		Status:          normaliseTelebirrStatus(payload.TradeStatus),
		ProviderPayload: body,
	}, nil
}

// ComputeSignature is exported for webhook client implementations and tests.
func (t Telebirr) ComputeSignature(outTradeNo, totalAmount, timestamp string) string {
	return t.computeSignature(outTradeNo, totalAmount, timestamp)
}

func (t Telebirr) computeSignature(outTradeNo, totalAmount, timestamp string) string {
	key := strings.TrimSpace(t.AppSecret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(outTradeNo))
	mac.Write([]byte("."))
	mac.Write([]byte(totalAmount))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

func normaliseTelebirrStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "success", "paid":
		return StatusPaid
	case "failure", "failed", "closed":
		return StatusFailed
	default:
		return StatusPending
	}
}
