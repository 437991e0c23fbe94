package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/dlq"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/mail"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/retry"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/storage"
)

const txID = "0c5d5e8f2b3a4b6c9d7e1f2a3b4c5d6e"

var (
	t0        = time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)
	errRemote = fmt.Errorf("remote: status 503: %w", client.ErrBadGateway)
)

type fakeSettlement struct {
	mu       sync.Mutex
	outcome  models.Outcome
	err      error
	requests []client.ClosePaymentRequest
}

func (f *fakeSettlement) ClosePayment(_ context.Context, req client.ClosePaymentRequest) (models.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.outcome, f.err
}

func (f *fakeSettlement) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeGateway struct {
	mu         sync.Mutex
	refund     client.RefundResponse
	refundErr  error
	state      client.AuthorizationState
	stateErr   error
	refunded   []string
	stateCalls int
}

func (f *fakeGateway) RequestRefund(_ context.Context, _ models.PaymentGateway, id string) (client.RefundResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunded = append(f.refunded, id)
	return f.refund, f.refundErr
}

func (f *fakeGateway) GetAuthorizationState(context.Context, string) (client.AuthorizationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	return f.state, f.stateErr
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunded) + f.stateCalls
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []mail.Request
}

func (f *fakeNotifier) SendEmail(_ context.Context, req mail.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return f.err
}

type fakeCache struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeCache) Delete(_ context.Context, rptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, rptID)
	return nil
}

type fakeUserStats struct {
	users  []string
	usages []client.LastUsage
	err    error
}

func (f *fakeUserStats) SaveLastUsage(_ context.Context, userID string, u client.LastUsage) error {
	f.users = append(f.users, userID)
	f.usages = append(f.usages, u)
	return f.err
}

// failingSaves fails the failAt-th Save, counting from one.
type failingSaves struct {
	storage.EventStore
	mu     sync.Mutex
	saves  int
	failAt int
}

func (f *failingSaves) Save(ctx context.Context, ev models.Event) error {
	f.mu.Lock()
	f.saves++
	n := f.saves
	f.mu.Unlock()
	if n == f.failAt {
		return errors.New("db down")
	}
	return f.EventStore.Save(ctx, ev)
}

// env is a dispatcher wired to in-memory stores, queues and fake collaborators.
type env struct {
	now time.Time

	store      *storage.Memory
	inbound    *queue.Memory
	deadLetter *queue.Memory
	closureQ   *queue.Memory
	notifyQ    *queue.Memory
	refundQ    *queue.Memory
	authQ      *queue.Memory
	expiration *queue.Memory

	settlement *fakeSettlement
	gateway    *fakeGateway
	notifier   *fakeNotifier
	cache      *fakeCache
	stats      *fakeUserStats

	deps Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		now:        t0.Add(time.Hour),
		store:      storage.NewMemory(),
		settlement: &fakeSettlement{outcome: models.OutcomeOK},
		gateway:    &fakeGateway{refund: client.RefundResponse{Outcome: "OK"}, state: client.AuthorizationState{Outcome: models.OutcomeOK, AuthorizationCode: "AC1"}},
		notifier:   &fakeNotifier{},
		cache:      &fakeCache{},
		stats:      &fakeUserStats{},
	}
	clock := func() time.Time { return e.now }
	e.inbound = queue.NewMemory(clock)
	e.deadLetter = queue.NewMemory(clock)
	e.closureQ = queue.NewMemory(clock)
	e.notifyQ = queue.NewMemory(clock)
	e.refundQ = queue.NewMemory(clock)
	e.authQ = queue.NewMemory(clock)
	e.expiration = queue.NewMemory(clock)
	e.deps = Deps{
		Events:     e.store,
		Views:      e.store,
		DeadLetter: dlq.New(e.deadLetter, 24*time.Hour, zerolog.Nop()).WithClock(clock),
		Logger:     zerolog.Nop(),
		Now:        clock,
	}
	return e
}

func (e *env) clock() time.Time { return e.now }

func (e *env) retrier(q *queue.Memory, code models.EventCode) *retry.Service {
	cfg := retry.Config{Offset: time.Second, MaxDelay: time.Minute, MaxAttempts: 3, TTL: time.Hour}
	return retry.New(q, code, cfg, retry.WithClock(e.clock))
}

func (e *env) closure() Closure {
	return Closure{
		Settlement:  e.settlement,
		Cache:       e.cache,
		Retry:       e.retrier(e.closureQ, models.EventClosureRetried),
		Gateway:     e.gateway,
		RefundRetry: e.retrier(e.refundQ, models.EventRefundRetried),
	}
}

func (e *env) notification() Notification {
	return Notification{
		Notifier:    e.notifier,
		Mail:        mail.Builder{PaymentMethodLogo: "https://logo"},
		Retry:       e.retrier(e.notifyQ, models.EventUserReceiptAddRetried),
		Gateway:     e.gateway,
		RefundRetry: e.retrier(e.refundQ, models.EventRefundRetried),
	}
}

func (e *env) expirationCfg() Expiration {
	return Expiration{
		Queue:                    e.expiration,
		TransientTTL:             time.Hour,
		SendPaymentResultTimeout: 120 * time.Second,
		ExpirationOffset:         10 * time.Second,
		Gateway:                  e.gateway,
		RefundRetry:              e.retrier(e.refundQ, models.EventRefundRetried),
	}
}

func (e *env) seed(t *testing.T, events ...models.Event) {
	t.Helper()
	for _, ev := range events {
		if err := e.store.Save(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
}

func (e *env) codes(t *testing.T) []models.EventCode {
	t.Helper()
	events, err := e.store.FindByTransactionIDOrderByCreationDateAsc(context.Background(), txID)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]models.EventCode, len(events))
	for i, ev := range events {
		out[i] = ev.Code
	}
	return out
}

// appended returns the codes persisted after the n seeded events.
func (e *env) appended(t *testing.T, n int) []models.EventCode {
	t.Helper()
	return e.codes(t)[n:]
}

func (e *env) viewStatus(t *testing.T) models.Status {
	t.Helper()
	v, err := e.store.FindView(context.Background(), txID)
	if errors.Is(err, storage.ErrNotFound) {
		return ""
	}
	if err != nil {
		t.Fatal(err)
	}
	return v.Status
}

// deliver runs the pipeline of r on payload and returns its outcome.
func (e *env) deliver(t *testing.T, r *Runner, payload []byte) Outcome {
	t.Helper()
	outcome, err := r.run(context.Background(), payload)
	if err != nil {
		t.Fatalf("%s: run: %v", r.Name(), err)
	}
	return outcome
}

func retryCounts(t *testing.T, q *queue.Memory, code models.EventCode) []int {
	t.Helper()
	var out []int
	for _, s := range q.Sent() {
		qe, _, err := models.Parse(s.Payload, code)
		if err != nil {
			t.Fatalf("retry payload %s: %v", s.Payload, err)
		}
		out = append(out, qe.Event.Data.(models.RetriedData).RetryCount)
	}
	return out
}

func equalCodes(a, b []models.EventCode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ev(code models.EventCode, minute int, data models.EventData) models.Event {
	return models.Event{
		ID:            fmt.Sprintf("%s-%d", code, minute),
		TransactionID: txID,
		Code:          code,
		Version:       models.V2,
		CreationDate:  t0.Add(time.Duration(minute) * time.Minute),
		Data:          data,
	}
}

func activated() models.Event {
	return ev(models.EventActivated, 0, models.ActivatedData{
		Email:    "user@example.com",
		ClientID: "CHECKOUT",
		UserID:   "user-1",
		PaymentNotices: []models.PaymentNotice{
			{PaymentToken: "tok-1", RptID: "77777777777302016723749670035", Description: "TARI", Amount: 1200},
			{PaymentToken: "tok-2", RptID: "77777777777302016723749670036", Description: "TARI", Amount: 300},
		},
	})
}

func authRequested(gateway models.PaymentGateway) models.Event {
	return ev(models.EventAuthorizationRequested, 1, models.AuthorizationRequestData{
		Amount: 1500, Fee: 50, PaymentInstrumentID: "pi-1", PspID: "PSP1", PspBusinessName: "Banca Test",
		PaymentMethodName: "CARDS", AuthorizationRequestID: "auth-1", PaymentGateway: gateway,
	})
}

func authCompleted(outcome models.Outcome) models.Event {
	return ev(models.EventAuthorizationCompleted, 2, models.AuthorizationCompletedData{Outcome: outcome, AuthorizationCode: "AC1"})
}

func closedEvent(outcome models.Outcome, minute int) models.Event {
	return ev(models.EventClosed, minute, models.ClosureData{Outcome: outcome})
}

func receiptRequested(outcome models.Outcome) models.Event {
	return ev(models.EventUserReceiptRequested, 4, models.UserReceiptData{Outcome: outcome, Language: "it-IT", PaymentDate: t0})
}

// authorized is the history of a transaction whose payment was authorized.
func authorized() []models.Event {
	return []models.Event{activated(), authRequested(models.GatewayNPG), authCompleted(models.OutcomeOK)}
}

func canceled() []models.Event {
	return []models.Event{activated(), ev(models.EventUserCanceled, 1, nil)}
}

func queued(t *testing.T, e models.Event, tracing *models.TracingInfo) []byte {
	t.Helper()
	b, err := json.Marshal(models.QueueEvent{Event: e, TracingInfo: tracing})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func bare(t *testing.T, e models.Event) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func retried(code models.EventCode, count int) models.Event {
	return ev(code, 30, models.RetriedData{RetryCount: count})
}
