package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-properti/internal/events"
	"github.com/noah-isme/backend-properti/internal/obs"
	"github.com/noah-isme/backend-properti/internal/queue"
	"github.com/noah-isme/backend-properti/internal/resilience"
)

// Dispatcher coordinates notification scheduling and webhook delivery.
type Dispatcher struct {
	Store              Store
	Client             *http.Client
	// HTTP, when set, routes deliveries through the circuit breaker wrapper
	// instead of Client. Workers use it to stop hammering dead endpoints.
	HTTP               *resilience.HTTPClient
	Queue              queue.Enqueuer
	BackoffBaseSec     int
	DefaultMaxAttempts int
	Enabled            bool
	Replay             ReplayProtector
	ReplayTTL          time.Duration
}

// Notify implements the events.Notifier interface by scheduling deliveries.
func (d *Dispatcher) Notify(ctx context.Context, event events.DomainEvent) error {
	return d.Schedule(ctx, event)
}

// Schedule enqueues deliveries for active endpoints subscribed to the topic.
func (d *Dispatcher) Schedule(ctx context.Context, event events.DomainEvent) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if strings.TrimSpace(event.Topic) == "" {
		return nil
	}
	endpoints, err := d.Store.ListActiveEndpointsForTopic(ctx, event.OrgID, event.Topic)
	if err != nil {
		return err
	}
	var joined error
	for _, ep := range endpoints {
		maxAttempt := d.DefaultMaxAttempts
		if maxAttempt <= 0 {
			maxAttempt = 6
		}
		delivery, err := d.Store.EnqueueDelivery(ctx, ep.ID, event.ID, maxAttempt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue
			}
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery for %s: %w", ep.ID, err))
			continue
		}
		if err := d.EnqueueDispatchTask(ctx, delivery.ID.String(), 0, maxAttempt); err != nil {
			joined = errors.Join(joined, fmt.Errorf("enqueue dispatch task for %s: %w", delivery.ID, err))
		}
	}
	return joined
}

// WorkOnce dequeues eligible deliveries and attempts delivery.
func (d *Dispatcher) WorkOnce(ctx context.Context, batch int) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if batch <= 0 {
		batch = 1
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.WorkOnce")
	defer span.End()
	span.SetAttributes(attribute.Int("notify.batch", batch))

	deliveries, err := d.Store.DequeueDueDeliveries(ctx, batch)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, del := range deliveries {
		if err := d.attempt(ctx, del); err != nil {
			return err
		}
	}
	return nil
}

// DeliverByID runs a single delivery attempt for the identified delivery.
func (d *Dispatcher) DeliverByID(ctx context.Context, deliveryID string) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	id, err := uuid.Parse(strings.TrimSpace(deliveryID))
	if err != nil {
		return fmt.Errorf("notify: invalid delivery id %q: %w", deliveryID, err)
	}
	del, err := d.Store.GetDelivery(ctx, id)
	if err != nil {
		return err
	}
	switch del.Status {
	case DeliveryStatusDelivered, DeliveryStatusDLQ:
		return nil
	}
	return d.attempt(ctx, del)
}

func (d *Dispatcher) attempt(ctx context.Context, del Delivery) error {
	attemptStart := time.Now()
	if err := d.Store.MarkDelivering(ctx, del.ID); err != nil {
		return nil
	}
	endpoint, err := d.Store.GetEndpoint(ctx, del.EndpointID)
	if err != nil {
		return d.failDelivery(ctx, del, fmt.Errorf("load endpoint: %w", err))
	}
	event, err := d.Store.GetDomainEvent(ctx, del.EventID)
	if err != nil {
		return d.failDelivery(ctx, del, fmt.Errorf("load event: %w", err))
	}
	status, respBody, deliverErr := d.deliver(ctx, endpoint, event, del)
	if deliverErr == nil && status >= 200 && status < 300 {
		if obs.NotificationDeliveriesTotal != nil {
			obs.NotificationDeliveriesTotal.WithLabelValues("delivered").Inc()
		}
		if obs.NotificationAttemptLatency != nil {
			obs.NotificationAttemptLatency.WithLabelValues("delivered").Observe(obs.DurationMillis(time.Since(attemptStart)))
		}
		var statusVal *int
		if status > 0 {
			statusVal = &status
		}
		var bodyVal *string
		if respBody != "" {
			bodyVal = &respBody
		}
		return d.Store.MarkDelivered(ctx, del.ID, statusVal, bodyVal)
	}
	reason := fmt.Sprintf("status=%d err=%v", status, deliverErr)
	if del.Attempt+1 >= del.MaxAttempt {
		if obs.NotificationDeliveriesTotal != nil {
			obs.NotificationDeliveriesTotal.WithLabelValues("dlq").Inc()
		}
		if obs.NotificationAttemptLatency != nil {
			obs.NotificationAttemptLatency.WithLabelValues("dlq").Observe(obs.DurationMillis(time.Since(attemptStart)))
		}
		if obs.NotificationDispatchDLQ != nil {
			obs.NotificationDispatchDLQ.Inc()
		}
		_ = d.Store.MoveToDLQ(ctx, del.ID, reason)
		_, _ = d.Store.InsertDeliveryDLQ(ctx, del.ID, reason)
		return nil
	}
	if obs.NotificationDeliveriesTotal != nil {
		obs.NotificationDeliveriesTotal.WithLabelValues("failed").Inc()
	}
	if obs.NotificationAttemptLatency != nil {
		obs.NotificationAttemptLatency.WithLabelValues("failed").Observe(obs.DurationMillis(time.Since(attemptStart)))
	}
	delay := d.nextDelay(del.Attempt)
	_ = d.Store.MarkFailedWithBackoff(ctx, del.ID, delay, reason)
	_ = d.EnqueueDispatchTask(ctx, del.ID.String(), delay, del.MaxAttempt)
	return nil
}

func (d *Dispatcher) nextDelay(attempt int) time.Duration {
	base := d.BackoffBaseSec
	if base <= 0 {
		base = 5
	}
	factor := 1 << attempt
	if factor < 1 {
		factor = 1
	}
	return time.Duration(base*factor) * time.Second
}

func (d *Dispatcher) failDelivery(ctx context.Context, del Delivery, err error) error {
	reason := err.Error()
	if del.Attempt+1 >= del.MaxAttempt {
		if obs.NotificationDeliveriesTotal != nil {
			obs.NotificationDeliveriesTotal.WithLabelValues("dlq").Inc()
		}
		if obs.NotificationDispatchDLQ != nil {
			obs.NotificationDispatchDLQ.Inc()
		}
		if dlqErr := d.Store.MoveToDLQ(ctx, del.ID, reason); dlqErr != nil {
			return dlqErr
		}
		_, _ = d.Store.InsertDeliveryDLQ(ctx, del.ID, reason)
		return nil
	}
	if obs.NotificationDeliveriesTotal != nil {
		obs.NotificationDeliveriesTotal.WithLabelValues("failed").Inc()
	}
	delay := d.nextDelay(del.Attempt)
	return d.Store.MarkFailedWithBackoff(ctx, del.ID, delay, reason)
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, ev events.DomainEvent, del Delivery) (int, string, error) {
	if d.Client == nil {
		d.Client = HTTPClient(5000, false)
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("notify.endpoint_id", ep.ID.String()),
		attribute.String("notify.delivery_id", del.ID.String()),
		attribute.String("notify.topic", ev.Topic),
	)
	if err := validateURL(ep.URL); err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	payload := struct {
		EventID    string          `json:"eventId"`
		Topic      string          `json:"topic"`
		Data       json.RawMessage `json:"data"`
		OccurredAt time.Time       `json:"occurredAt"`
	}{
		EventID:    ev.ID.String(),
		Topic:      ev.Topic,
		Data:       json.RawMessage(ev.Payload),
		OccurredAt: occurred,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	ts := time.Now().Unix()
	if d.Replay != nil && d.ReplayTTL > 0 {
		key := replayKey(ep.ID, ev.ID)
		ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, "", err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, "replay-suppressed", nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "properti-api-webhooks/1.0")
	eventID := ev.ID.String()
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Idempotency-Key", del.ID.String())
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))
	var resp *http.Response
	if d.HTTP != nil {
		resp, err = d.HTTP.Do(ctx, req)
	} else {
		resp, err = d.Client.Do(req)
	}
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return resp.StatusCode, "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, string(responseBody), nil
}

// Deliver exposes the low-level delivery routine to allow manual replays and testing.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, ev events.DomainEvent, del Delivery) (int, string, error) {
	return d.deliver(ctx, ep, ev, del)
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns an HTTP client configured for webhook delivery.
func HTTPClient(timeoutMs int, insecure bool) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

func replayKey(endpointID, eventID uuid.UUID) string {
	return fmt.Sprintf("wh:%s:%s", endpointID, eventID)
}
