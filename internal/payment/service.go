package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-properti/internal/billing"
	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/events"
	"github.com/noah-isme/backend-properti/internal/obs"
)

// amountTolerance absorbs rounding differences between provider and ledger amounts.
const amountTolerance = 0.01

// InvoiceMarker is the slice of the invoice lifecycle the webhook needs.
type InvoiceMarker interface {
	UpdateStatus(ctx context.Context, orgID string, id uuid.UUID, status billing.InvoiceStatus, paidAt *time.Time) (billing.Invoice, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, orgID, topic string, aggregateID uuid.UUID, payload any) (events.DomainEvent, error)
}

// Service settles invoices from verified provider notifications and opens
// checkout intents for them.
type Service struct {
	store     Store
	invoices  InvoiceMarker
	bus       eventEmitter
	replay    *redis.Client
	replayTTL time.Duration
	providers map[string]Provider
	intentTTL time.Duration
	currency  string
	cbBase    string
	log       zerolog.Logger
	now       func() time.Time
}

// ServiceConfig wires the service collaborators.
type ServiceConfig struct {
	Store           Store
	Invoices        InvoiceMarker
	Bus             *events.Bus
	Replay          *redis.Client
	ReplayTTL       time.Duration
	Providers       map[string]Provider
	IntentTTL       time.Duration
	Currency        string
	CallbackBaseURL string
	Logger          zerolog.Logger
	Now             func() time.Time
}

// NewService validates the configuration and returns a webhook settlement service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("payment: store is required")
	}
	if cfg.Invoices == nil {
		return nil, errors.New("payment: invoice marker is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	intentTTL := cfg.IntentTTL
	if intentTTL <= 0 {
		intentTTL = 15 * time.Minute
	}
	svc := &Service{
		store:     cfg.Store,
		invoices:  cfg.Invoices,
		replay:    cfg.Replay,
		replayTTL: cfg.ReplayTTL,
		providers: cfg.Providers,
		intentTTL: intentTTL,
		currency:  cfg.Currency,
		cbBase:    cfg.CallbackBaseURL,
		log:       cfg.Logger,
		now:       now,
	}
	if cfg.Bus != nil {
		svc.bus = cfg.Bus
	}
	return svc, nil
}

// CreateIntent opens (or reuses) a checkout session for an invoice. Pending
// intents that have not expired are returned as-is so double submits from the
// client do not multiply sessions.
func (s *Service) CreateIntent(ctx context.Context, orgID string, invoiceID uuid.UUID, providerKey string) (Intent, error) {
	provider, ok := s.providers[providerKey]
	if !ok {
		return Intent{}, common.NewValidationError(fmt.Sprintf("unknown payment provider %q", providerKey), nil)
	}

	invoice, err := s.store.FindInvoiceByID(ctx, orgID, invoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, common.NewNotFoundError("invoice not found", err)
		}
		return Intent{}, fmt.Errorf("payment: lookup invoice: %w", err)
	}
	switch billing.InvoiceStatus(invoice.Status) {
	case billing.StatusSent, billing.StatusOverdue:
	case billing.StatusPaid:
		return Intent{}, common.NewInvalidStateError("invoice is already paid", nil)
	default:
		return Intent{}, common.NewInvalidStateError(fmt.Sprintf("invoice status %s does not allow payment", invoice.Status), nil)
	}

	existing, err := s.store.LatestIntentByInvoice(ctx, orgID, invoiceID)
	if err == nil && existing.Provider == providerKey && existing.Status == IntentStatusPending {
		if existing.ExpiresAt == nil || existing.ExpiresAt.After(s.now()) {
			return existing, nil
		}
	} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Intent{}, fmt.Errorf("payment: lookup intent: %w", err)
	}

	resp, err := provider.CreateIntent(ctx, IntentRequest{
		InvoiceNumber:   invoice.Number,
		Amount:          invoice.Total,
		Currency:        s.currency,
		ExpiresAtSec:    int(s.intentTTL.Seconds()),
		CallbackBaseURL: s.cbBase,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("payment: open checkout: %w", err)
	}
	var expiresAt *time.Time
	if resp.ExpiresAt > 0 {
		at := time.Unix(resp.ExpiresAt, 0).UTC()
		expiresAt = &at
	}
	intent, err := s.store.InsertIntent(ctx, Intent{
		OrgID:       orgID,
		InvoiceID:   invoiceID,
		Provider:    providerKey,
		Status:      IntentStatusPending,
		Amount:      invoice.Total,
		TxRef:       resp.TxRef,
		CheckoutURL: resp.CheckoutURL,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("payment: record intent: %w", err)
	}
	return intent, nil
}

// ProcessWebhook applies a verified provider notification to the referenced invoice.
func (s *Service) ProcessWebhook(ctx context.Context, orgID, provider string, result WebhookVerifyResult) error {
	if !result.Valid {
		s.count(provider, "invalid")
		return common.NewValidationError("webhook signature is not valid", result.Err)
	}
	if s.replay != nil && s.replayTTL > 0 && result.EventID != "" {
		key := fmt.Sprintf("pay:%s:%s:%s", orgID, provider, result.EventID)
		ok, err := s.replay.SetNX(ctx, key, "1", s.replayTTL).Result()
		if err != nil {
			return fmt.Errorf("payment: replay store: %w", err)
		}
		if !ok {
			s.count(provider, "replay")
			return common.NewConflictError("duplicate webhook notification", nil)
		}
	}

	invoice, err := s.store.FindInvoiceByNumber(ctx, orgID, result.InvoiceNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.count(provider, "unknown_invoice")
			return common.NewNotFoundError(fmt.Sprintf("invoice %s not found", result.InvoiceNumber), err)
		}
		return fmt.Errorf("payment: lookup invoice: %w", err)
	}
	if result.Amount > 0 && math.Abs(result.Amount-invoice.Total) > amountTolerance {
		s.count(provider, "amount_mismatch")
		return common.NewValidationError("provider amount does not match invoice total", nil)
	}

	switch result.Status {
	case StatusPaid:
		if invoice.Status == string(billing.StatusPaid) {
			s.count(provider, "already_paid")
			return nil
		}
		paidAt := s.now().UTC()
		if _, err := s.invoices.UpdateStatus(ctx, orgID, invoice.ID, billing.StatusPaid, &paidAt); err != nil {
			s.count(provider, "error")
			return err
		}
		s.emit(ctx, orgID, events.TopicPaymentReceived, invoice.ID, map[string]any{
			"invoiceNumber": invoice.Number,
			"provider":      provider,
			"amount":        result.Amount,
			"eventId":       result.EventID,
		})
		s.count(provider, "paid")
		return nil
	case StatusFailed:
		s.emit(ctx, orgID, events.TopicPaymentFailed, invoice.ID, map[string]any{
			"invoiceNumber": invoice.Number,
			"provider":      provider,
			"eventId":       result.EventID,
		})
		s.count(provider, "failed")
		return nil
	default:
		s.count(provider, "pending")
		return nil
	}
}

func (s *Service) emit(ctx context.Context, orgID, topic string, aggregateID uuid.UUID, payload any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Emit(ctx, orgID, topic, aggregateID, payload); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("payment event emit failed")
	}
}

func (s *Service) count(provider, result string) {
	if obs.PaymentWebhookTotal == nil {
		return
	}
	obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
}
