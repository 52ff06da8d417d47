package payment

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-properti/internal/billing"
	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/events"
)

type stubStore struct {
	invoices map[string]InvoiceRef
	intents  []Intent
}

func (s *stubStore) FindInvoiceByNumber(_ context.Context, _ string, number string) (InvoiceRef, error) {
	ref, ok := s.invoices[number]
	if !ok {
		return InvoiceRef{}, pgx.ErrNoRows
	}
	return ref, nil
}

func (s *stubStore) FindInvoiceByID(_ context.Context, _ string, id uuid.UUID) (InvoiceRef, error) {
	for _, ref := range s.invoices {
		if ref.ID == id {
			return ref, nil
		}
	}
	return InvoiceRef{}, pgx.ErrNoRows
}

func (s *stubStore) InsertIntent(_ context.Context, in Intent) (Intent, error) {
	in.ID = uuid.New()
	in.CreatedAt = time.Now()
	s.intents = append(s.intents, in)
	return in, nil
}

func (s *stubStore) LatestIntentByInvoice(_ context.Context, orgID string, invoiceID uuid.UUID) (Intent, error) {
	for i := len(s.intents) - 1; i >= 0; i-- {
		if s.intents[i].OrgID == orgID && s.intents[i].InvoiceID == invoiceID {
			return s.intents[i], nil
		}
	}
	return Intent{}, pgx.ErrNoRows
}

type stubMarker struct {
	calls  int
	lastID uuid.UUID
	status billing.InvoiceStatus
	paidAt *time.Time
}

func (m *stubMarker) UpdateStatus(_ context.Context, _ string, id uuid.UUID, status billing.InvoiceStatus, paidAt *time.Time) (billing.Invoice, error) {
	m.calls++
	m.lastID = id
	m.status = status
	m.paidAt = paidAt
	return billing.Invoice{ID: id, Status: status}, nil
}

type stubBus struct {
	topics []string
}

func (b *stubBus) Emit(_ context.Context, _ string, topic string, _ uuid.UUID, _ any) (events.DomainEvent, error) {
	b.topics = append(b.topics, topic)
	return events.DomainEvent{}, nil
}

func newService(t *testing.T, store *stubStore, marker *stubMarker, bus *stubBus, replay *redis.Client) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Store:     store,
		Invoices:  marker,
		Replay:    replay,
		ReplayTTL: time.Minute,
	})
	require.NoError(t, err)
	svc.bus = bus
	return svc
}

func TestProcessWebhookMarksInvoicePaid(t *testing.T) {
	invoiceID := uuid.New()
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-001": {ID: invoiceID, Number: "INV-2026-001", Total: 25000, Status: string(billing.StatusSent)},
	}}
	marker := &stubMarker{}
	bus := &stubBus{}
	svc := newService(t, store, marker, bus, nil)

	err := svc.ProcessWebhook(context.Background(), "meskel", "chapa", WebhookVerifyResult{
		Valid:         true,
		EventID:       "evt-1",
		InvoiceNumber: "INV-2026-001",
		Amount:        25000,
		Status:        StatusPaid,
	})
	require.NoError(t, err)
	require.Equal(t, 1, marker.calls)
	require.Equal(t, invoiceID, marker.lastID)
	require.Equal(t, billing.StatusPaid, marker.status)
	require.NotNil(t, marker.paidAt)
	require.Contains(t, bus.topics, events.TopicPaymentReceived)
}

func TestProcessWebhookIgnoresAlreadyPaid(t *testing.T) {
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-002": {ID: uuid.New(), Number: "INV-2026-002", Total: 1200, Status: string(billing.StatusPaid)},
	}}
	marker := &stubMarker{}
	svc := newService(t, store, marker, &stubBus{}, nil)

	err := svc.ProcessWebhook(context.Background(), "meskel", "chapa", WebhookVerifyResult{
		Valid:         true,
		InvoiceNumber: "INV-2026-002",
		Amount:        1200,
		Status:        StatusPaid,
	})
	require.NoError(t, err)
	require.Zero(t, marker.calls)
}

func TestProcessWebhookRejectsAmountMismatch(t *testing.T) {
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-003": {ID: uuid.New(), Number: "INV-2026-003", Total: 5000, Status: string(billing.StatusSent)},
	}}
	marker := &stubMarker{}
	svc := newService(t, store, marker, &stubBus{}, nil)

	err := svc.ProcessWebhook(context.Background(), "meskel", "telebirr", WebhookVerifyResult{
		Valid:         true,
		InvoiceNumber: "INV-2026-003",
		Amount:        4800,
		Status:        StatusPaid,
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeValidation))
	require.Zero(t, marker.calls)
}

func TestProcessWebhookUnknownInvoice(t *testing.T) {
	svc := newService(t, &stubStore{invoices: map[string]InvoiceRef{}}, &stubMarker{}, &stubBus{}, nil)

	err := svc.ProcessWebhook(context.Background(), "meskel", "chapa", WebhookVerifyResult{
		Valid:         true,
		InvoiceNumber: "INV-2026-404",
		Status:        StatusPaid,
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestProcessWebhookReplayProtection(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	invoiceID := uuid.New()
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-005": {ID: invoiceID, Number: "INV-2026-005", Total: 900, Status: string(billing.StatusSent)},
	}}
	marker := &stubMarker{}
	svc := newService(t, store, marker, &stubBus{}, client)

	result := WebhookVerifyResult{
		Valid:         true,
		EventID:       "evt-dup",
		InvoiceNumber: "INV-2026-005",
		Amount:        900,
		Status:        StatusPaid,
	}
	require.NoError(t, svc.ProcessWebhook(context.Background(), "meskel", "chapa", result))
	err := svc.ProcessWebhook(context.Background(), "meskel", "chapa", result)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeConflict))
	require.Equal(t, 1, marker.calls)
}

func TestProcessWebhookFailedEmitsEvent(t *testing.T) {
	invoiceID := uuid.New()
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-006": {ID: invoiceID, Number: "INV-2026-006", Total: 700, Status: string(billing.StatusSent)},
	}}
	marker := &stubMarker{}
	bus := &stubBus{}
	svc := newService(t, store, marker, bus, nil)

	err := svc.ProcessWebhook(context.Background(), "meskel", "telebirr", WebhookVerifyResult{
		Valid:         true,
		InvoiceNumber: "INV-2026-006",
		Status:        StatusFailed,
	})
	require.NoError(t, err)
	require.Zero(t, marker.calls)
	require.Contains(t, bus.topics, events.TopicPaymentFailed)
}

type stubProvider struct {
	calls int
	err   error
}

func (p *stubProvider) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	p.calls++
	if p.err != nil {
		return IntentResponse{}, p.err
	}
	return IntentResponse{
		Provider:    "chapa",
		TxRef:       req.InvoiceNumber,
		CheckoutURL: "https://checkout.example/" + req.InvoiceNumber,
		ExpiresAt:   time.Now().Add(time.Duration(req.ExpiresAtSec) * time.Second).Unix(),
	}, nil
}

func (p *stubProvider) VerifyWebhook(_ *http.Request, _ []byte) (WebhookVerifyResult, error) {
	return WebhookVerifyResult{}, nil
}

func newIntentService(t *testing.T, store *stubStore, provider Provider) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Store:     store,
		Invoices:  &stubMarker{},
		Providers: map[string]Provider{"chapa": provider},
		IntentTTL: 10 * time.Minute,
		Currency:  "ETB",
	})
	require.NoError(t, err)
	return svc
}

func TestCreateIntentOpensCheckout(t *testing.T) {
	invoiceID := uuid.New()
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-010": {ID: invoiceID, Number: "INV-2026-010", Total: 1725, Status: string(billing.StatusSent)},
	}}
	provider := &stubProvider{}
	svc := newIntentService(t, store, provider)

	intent, err := svc.CreateIntent(context.Background(), "meskel", invoiceID, "chapa")
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)
	require.Equal(t, IntentStatusPending, intent.Status)
	require.Equal(t, "INV-2026-010", intent.TxRef)
	require.Equal(t, 1725.0, intent.Amount)
	require.NotEmpty(t, intent.CheckoutURL)
	require.NotNil(t, intent.ExpiresAt)
}

func TestCreateIntentUnknownProvider(t *testing.T) {
	svc := newIntentService(t, &stubStore{invoices: map[string]InvoiceRef{}}, &stubProvider{})

	_, err := svc.CreateIntent(context.Background(), "meskel", uuid.New(), "paypal")
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestCreateIntentUnknownInvoice(t *testing.T) {
	svc := newIntentService(t, &stubStore{invoices: map[string]InvoiceRef{}}, &stubProvider{})

	_, err := svc.CreateIntent(context.Background(), "meskel", uuid.New(), "chapa")
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestCreateIntentRejectsPaidInvoice(t *testing.T) {
	invoiceID := uuid.New()
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-011": {ID: invoiceID, Number: "INV-2026-011", Total: 500, Status: string(billing.StatusPaid)},
	}}
	provider := &stubProvider{}
	svc := newIntentService(t, store, provider)

	_, err := svc.CreateIntent(context.Background(), "meskel", invoiceID, "chapa")
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
	require.Zero(t, provider.calls)
}

func TestCreateIntentRejectsDraftInvoice(t *testing.T) {
	invoiceID := uuid.New()
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-012": {ID: invoiceID, Number: "INV-2026-012", Total: 500, Status: string(billing.StatusDraft)},
	}}
	svc := newIntentService(t, store, &stubProvider{})

	_, err := svc.CreateIntent(context.Background(), "meskel", invoiceID, "chapa")
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestCreateIntentReusesPendingIntent(t *testing.T) {
	invoiceID := uuid.New()
	store := &stubStore{invoices: map[string]InvoiceRef{
		"INV-2026-013": {ID: invoiceID, Number: "INV-2026-013", Total: 900, Status: string(billing.StatusOverdue)},
	}}
	provider := &stubProvider{}
	svc := newIntentService(t, store, provider)

	first, err := svc.CreateIntent(context.Background(), "meskel", invoiceID, "chapa")
	require.NoError(t, err)
	second, err := svc.CreateIntent(context.Background(), "meskel", invoiceID, "chapa")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, provider.calls)
	require.Len(t, store.intents, 1)
}
