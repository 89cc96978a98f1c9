package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hookrelay/internal/queue"
	"hookrelay/internal/signature"
	"hookrelay/internal/store"
	"hookrelay/types"

	"github.com/google/uuid"
)

// storeSource resolves subscriptions straight from a store, standing in for
// the cache layer.
type storeSource struct {
	store store.Store
}

func (s storeSource) Get(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

func newPoolFixture(st store.Store) (*Pool, *queue.Memory) {
	q := queue.NewMemory(32)
	p := NewPool(q, q, storeSource{st}, st, 1)
	return p, q
}

func createSubscription(t *testing.T, st store.Store, targetURL, secret string) *types.Subscription {
	t.Helper()
	sub := &types.Subscription{
		ID:        uuid.New(),
		TargetURL: targetURL,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

// runDelivery processes the first task and every scheduled retry until the
// delivery reaches a terminal state, returning the observed backoff delays.
func runDelivery(t *testing.T, p *Pool, q *queue.Memory) []time.Duration {
	t.Helper()
	ctx := context.Background()
	var delays []time.Duration

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	task, err := q.Dequeue(dctx)
	if err != nil {
		t.Fatalf("no initial task enqueued: %v", err)
	}

	for {
		p.process(ctx, task)
		scheduled := q.Delays()
		if len(scheduled) == 0 {
			return delays
		}
		delays = append(delays, scheduled...)
		q.PromoteAll()
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		task, err = q.Dequeue(dctx)
		cancel()
		if err != nil {
			t.Fatalf("scheduled retry never became ready: %v", err)
		}
	}
}

func TestDeliverySucceedsFirstAttempt(t *testing.T) {
	var mu sync.Mutex
	var gotID, gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotID = r.Header.Get("X-Webhook-ID")
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := createSubscription(t, st, srv.URL, "top-secret")
	p, q := newPoolFixture(st)

	d := NewDispatcher(storeSource{st}, q)
	webhookID, err := d.Ingest(context.Background(), sub.ID, json.RawMessage(`{"b":2,"a":1}`), "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	delays := runDelivery(t, p, q)
	if len(delays) != 0 {
		t.Fatalf("unexpected retries: %v", delays)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotID != webhookID.String() {
		t.Fatalf("X-Webhook-ID = %q, want %q", gotID, webhookID)
	}
	if gotType != "application/json" {
		t.Fatalf("Content-Type = %q", gotType)
	}
	if !signature.Verify("top-secret", gotBody, gotSig) {
		t.Fatalf("signature did not verify over delivered body %s", gotBody)
	}
	// Canonical serialization sorts keys.
	if string(gotBody) != `{"a":1,"b":2}` {
		t.Fatalf("body not canonical: %s", gotBody)
	}

	latest, err := st.LatestAttempt(context.Background(), webhookID)
	if err != nil {
		t.Fatalf("latest attempt: %v", err)
	}
	if latest.Status != types.StatusSuccess || latest.AttemptNumber != 1 {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestDeliveryWithoutSecretOmitsSignature(t *testing.T) {
	var mu sync.Mutex
	sigPresent := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_, sigPresent = r.Header[http.CanonicalHeaderKey("X-Webhook-Signature")]
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := createSubscription(t, st, srv.URL, "")
	p, q := newPoolFixture(st)

	d := NewDispatcher(storeSource{st}, q)
	if _, err := d.Ingest(context.Background(), sub.ID, json.RawMessage(`{"a":1}`), ""); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	runDelivery(t, p, q)

	mu.Lock()
	defer mu.Unlock()
	if sigPresent {
		t.Fatal("signature header set without a configured secret")
	}
}

func TestDeliveryExhaustsAfterSixAttempts(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := createSubscription(t, st, srv.URL, "s")
	p, q := newPoolFixture(st)

	d := NewDispatcher(storeSource{st}, q)
	webhookID, err := d.Ingest(context.Background(), sub.ID, json.RawMessage(`{"x":1}`), "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	delays := runDelivery(t, p, q)
	want := []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second, 300 * time.Second, 900 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}

	mu.Lock()
	if hits != 6 {
		t.Fatalf("endpoint hit %d times, want 6", hits)
	}
	mu.Unlock()

	attempts, err := st.RecentAttempts(context.Background(), sub.ID, 0)
	if err != nil {
		t.Fatalf("recent attempts: %v", err)
	}
	if len(attempts) != 6 {
		t.Fatalf("logged %d attempts, want 6", len(attempts))
	}
	for _, a := range attempts {
		if a.Status != types.StatusFailed {
			t.Fatalf("attempt %d status = %s", a.AttemptNumber, a.Status)
		}
		if a.StatusCode == nil || *a.StatusCode != http.StatusInternalServerError {
			t.Fatalf("attempt %d status code = %v", a.AttemptNumber, a.StatusCode)
		}
	}

	latest, err := st.LatestAttempt(context.Background(), webhookID)
	if err != nil {
		t.Fatalf("latest attempt: %v", err)
	}
	if latest.Status != types.StatusFailed || latest.AttemptNumber != 6 {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestDeliverySucceedsOnThirdAttempt(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := store.NewMemory()
	sub := createSubscription(t, st, srv.URL, "")
	p, q := newPoolFixture(st)

	d := NewDispatcher(storeSource{st}, q)
	webhookID, err := d.Ingest(context.Background(), sub.ID, json.RawMessage(`{"x":1}`), "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	delays := runDelivery(t, p, q)
	if len(delays) != 2 || delays[0] != 10*time.Second || delays[1] != 30*time.Second {
		t.Fatalf("delays = %v, want [10s 30s]", delays)
	}

	attempts, err := st.RecentAttempts(context.Background(), sub.ID, 0)
	if err != nil {
		t.Fatalf("recent attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("logged %d attempts, want 3", len(attempts))
	}

	// Attempt numbers 1..3 with exactly one success.
	seen := map[int]string{}
	for _, a := range attempts {
		seen[a.AttemptNumber] = a.Status
	}
	if seen[1] != types.StatusFailed || seen[2] != types.StatusFailed || seen[3] != types.StatusSuccess {
		t.Fatalf("attempt statuses = %v", seen)
	}

	latest, err := st.LatestAttempt(context.Background(), webhookID)
	if err != nil {
		t.Fatalf("latest attempt: %v", err)
	}
	if latest.Status != types.StatusSuccess || latest.AttemptNumber != 3 {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestNetworkFailureIsRetryableAndLogged(t *testing.T) {
	st := store.NewMemory()
	// Unroutable target: connection refused immediately.
	sub := createSubscription(t, st, "http://127.0.0.1:1", "")
	p, q := newPoolFixture(st)

	task := &types.DeliveryTask{
		WebhookID:      uuid.New(),
		SubscriptionID: sub.ID,
		Payload:        json.RawMessage(`{"x":1}`),
		Attempt:        1,
	}
	p.process(context.Background(), task)

	delays := q.Delays()
	if len(delays) != 1 || delays[0] != 10*time.Second {
		t.Fatalf("delays = %v, want [10s]", delays)
	}
	latest, err := st.LatestAttempt(context.Background(), task.WebhookID)
	if err != nil {
		t.Fatalf("latest attempt: %v", err)
	}
	if latest.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", latest.Status)
	}
	if latest.StatusCode != nil {
		t.Fatalf("network failure should have no status code, got %d", *latest.StatusCode)
	}
	if latest.ErrorMessage == nil || *latest.ErrorMessage == "" {
		t.Fatal("network failure should record an error message")
	}
}

func TestVanishedSubscriptionAbandonsSilently(t *testing.T) {
	st := store.NewMemory()
	p, q := newPoolFixture(st)

	task := &types.DeliveryTask{
		WebhookID:      uuid.New(),
		SubscriptionID: uuid.New(),
		Payload:        json.RawMessage(`{"x":1}`),
		Attempt:        1,
	}
	p.process(context.Background(), task)

	if q.Len() != 0 {
		t.Fatal("no retry should be scheduled for a vanished subscription")
	}
	if _, err := st.LatestAttempt(context.Background(), task.WebhookID); err == nil {
		t.Fatal("no attempt record should be written for a vanished subscription")
	}
}
