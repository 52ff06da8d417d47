package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-properti/internal/events"
)

type stubStore struct {
	lastOrg     string
	lastTopic   string
	lastPayload []byte
}

func (s *stubStore) InsertDomainEvent(_ context.Context, orgID, topic string, aggregateID uuid.UUID, payload []byte) (events.DomainEvent, error) {
	s.lastOrg = orgID
	s.lastTopic = topic
	s.lastPayload = payload
	return events.DomainEvent{
		ID:          uuid.New(),
		OrgID:       orgID,
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}, nil
}

type captureNotifier struct {
	events []events.DomainEvent
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.DomainEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
	}

	aggregate := uuid.New()
	payload := map[string]any{"invoiceId": "123"}
	event, err := bus.Emit(context.Background(), "meskel", events.TopicInvoiceCreated, aggregate, payload)
	require.NoError(t, err)
	require.Equal(t, "meskel", store.lastOrg)
	require.Equal(t, events.TopicInvoiceCreated, store.lastTopic)
	require.JSONEq(t, `{"invoiceId":"123"}`, string(store.lastPayload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "123", decoded["invoiceId"])
}

func TestEmitRequiresTopicAndOrg(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}

	_, err := bus.Emit(context.Background(), "meskel", "  ", uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), "", events.TopicRentChanged, uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), "meskel", events.TopicRentChanged, uuid.Nil, nil)
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	failing := &captureNotifier{err: errors.New("webhook down")}
	ok := &captureNotifier{}
	bus := events.Bus{
		Store:     &stubStore{},
		Notifiers: []events.Notifier{failing, ok},
	}

	event, err := bus.Emit(context.Background(), "meskel", events.TopicRentChanged, uuid.New(), map[string]any{"leaseId": "l1"})
	require.Error(t, err)
	require.NotEqual(t, uuid.Nil, event.ID)
	require.Len(t, ok.events, 1)
}
