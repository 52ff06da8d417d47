package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/obs"
	"github.com/noah-isme/backend-properti/internal/org"
)

type stubStore struct {
	lastInsert Entry
	called     bool
}

func (s *stubStore) InsertAuditLog(_ context.Context, entry Entry) (uuid.UUID, error) {
	s.called = true
	s.lastInsert = entry
	return uuid.New(), nil
}

func (s *stubStore) ListAuditLogs(context.Context, string, int, int) ([]Entry, error) {
	return nil, nil
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true, SamplingRate: 1}
	userID := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "https://api.test/api/v1/invoices?status=sent", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	ctx := common.WithUserID(req.Context(), userID)
	ctx = obs.WithRoutePattern(ctx, "/api/v1/invoices")
	ctx = org.WithOrg(ctx, "meskel")
	req = req.WithContext(ctx)

	if err := svc.Record(req.Context(), Actor{Kind: ActorKindUser, UserID: &userID}, "", "", "", req, http.StatusCreated, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if !store.called {
		t.Fatal("expected store to be called")
	}
	if store.lastInsert.ActorKind != string(ActorKindUser) {
		t.Fatalf("unexpected actor kind: %s", store.lastInsert.ActorKind)
	}
	if store.lastInsert.ActorUserID == nil || store.lastInsert.ActorUserID.String() != userID {
		t.Fatalf("unexpected stored user id: %v", store.lastInsert.ActorUserID)
	}
	if store.lastInsert.OrgID == nil || *store.lastInsert.OrgID != "meskel" {
		t.Fatalf("expected org capture, got %v", store.lastInsert.OrgID)
	}
	if store.lastInsert.Action != "POST /api/v1/invoices" {
		t.Fatalf("unexpected action: %s", store.lastInsert.Action)
	}
	if store.lastInsert.ResourceType != "invoices" {
		t.Fatalf("unexpected resource type: %s", store.lastInsert.ResourceType)
	}
	if store.lastInsert.IP == nil || *store.lastInsert.IP != "10.0.0.2" {
		t.Fatalf("expected ip capture, got %v", store.lastInsert.IP)
	}
	if store.lastInsert.RequestID == nil || *store.lastInsert.RequestID != "req-123" {
		t.Fatalf("expected request id, got %v", store.lastInsert.RequestID)
	}
	var meta map[string]string
	if err := json.Unmarshal(store.lastInsert.Metadata, &meta); err != nil {
		t.Fatalf("metadata json: %v", err)
	}
	if meta["query"] != "status=sent" {
		t.Fatalf("unexpected metadata query: %s", meta["query"])
	}
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: false}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := svc.Record(req.Context(), Actor{}, "", "", "", req, http.StatusOK, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if store.called {
		t.Fatal("expected no insert when disabled")
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	store := &stubStore{}
	recorder := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}
	handler := recorder.Middleware(HTTPConfig{Action: "invoice.cancel", ResourceType: "invoices"})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/123/cancel", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !store.called {
		t.Fatal("expected audit entry")
	}
	if store.lastInsert.Status != http.StatusConflict {
		t.Fatalf("unexpected status: %d", store.lastInsert.Status)
	}
	if store.lastInsert.Action != "invoice.cancel" {
		t.Fatalf("unexpected action: %s", store.lastInsert.Action)
	}
}
