package consumers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/dlq"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

func (e *env) runners() []*Runner {
	return []*Runner{
		NewClosePayment(e.deps, e.closure()),
		NewClosureRetry(e.deps, e.closure()),
		NewNotifications(e.deps, e.notification()),
		NewNotificationsRetry(e.deps, e.notification()),
		NewAuthorizationRequested(e.deps, e.authorization()),
		NewExpiration(e.deps, e.expirationCfg()),
		NewRefundRetry(e.deps, Refund{Gateway: e.gateway, Retry: e.retrier(e.refundQ, models.EventRefundRetried)}),
	}
}

func TestRunner_UnparseablePayloadIsDeadLettered(t *testing.T) {
	payloads := map[string][]byte{
		"not json":       []byte("test"),
		"unknown code":   []byte(`{"id":"x","transactionId":"tx","eventCode":"TRANSACTION_UNKNOWN_EVENT","creationDate":"2026-02-25T12:00:00Z","data":null}`),
		"empty document": []byte(`{}`),
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			e.seed(t, authorized()...)
			runners := e.runners()
			for _, r := range runners {
				if got := e.deliver(t, r, payload); got != OutcomeDeadLettered {
					t.Fatalf("%s: outcome=%s", r.Name(), got)
				}
			}
			dead := e.deadLetter.Sent()
			if len(dead) != len(runners) {
				t.Fatalf("dead letters=%d", len(dead))
			}
			for i, d := range dead {
				if string(d.Payload) != string(payload) {
					t.Fatalf("payload=%q", d.Payload)
				}
				if d.Options.Attributes[dlq.AttrConsumer] != runners[i].Name() || d.Options.Attributes[dlq.AttrError] == "" {
					t.Fatalf("attrs=%v", d.Options.Attributes)
				}
			}
			if e.settlement.calls() != 0 || e.gateway.calls() != 0 || len(e.notifier.sent) != 0 {
				t.Fatal("no external call expected")
			}
			if codes := e.appended(t, 3); len(codes) != 0 {
				t.Fatalf("appended=%v", codes)
			}
		})
	}
}

func TestRunner_RejectsEventsOfOtherConsumers(t *testing.T) {
	e := newEnv(t)
	e.seed(t, canceled()...)
	r := NewClosePayment(e.deps, e.closure())

	if got := e.deliver(t, r, queued(t, retried(models.EventRefundRetried, 1), nil)); got != OutcomeDeadLettered {
		t.Fatalf("outcome=%s", got)
	}
	if e.settlement.calls() != 0 {
		t.Fatal("no settlement call expected")
	}
}

func TestRunner_InvalidHistoryIsDeadLettered(t *testing.T) {
	e := newEnv(t)
	e.seed(t, ev(models.EventUserCanceled, 1, nil))
	r := NewClosePayment(e.deps, e.closure())

	if got := e.deliver(t, r, queued(t, ev(models.EventUserCanceled, 1, nil), nil)); got != OutcomeDeadLettered {
		t.Fatalf("outcome=%s", got)
	}
	if e.settlement.calls() != 0 {
		t.Fatal("no settlement call expected")
	}
}

func TestRunner_InfrastructureErrorsLeaveTheMessage(t *testing.T) {
	cases := []struct {
		name  string
		setup func(e *env)
	}{
		{name: "event log unreadable", setup: func(e *env) { e.store.FindErr = errors.New("connection reset") }},
		{name: "event write fails", setup: func(e *env) { e.store.SaveErr = errors.New("deadlock") }},
		{name: "view write fails", setup: func(e *env) { e.store.SaveViewErr = errors.New("deadlock") }},
		{name: "retry enqueue fails", setup: func(e *env) {
			e.settlement.err = errRemote
			e.closureQ.SendErr = errors.New("redis down")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			e.seed(t, canceled()...)
			tc.setup(e)
			r := NewClosePayment(e.deps, e.closure())

			err := r.Handle(context.Background(), e.inbound.Message(queued(t, ev(models.EventUserCanceled, 1, nil), nil)))
			var infraErr *InfrastructureError
			if !errors.As(err, &infraErr) {
				t.Fatalf("err=%v", err)
			}
			if len(e.deadLetter.Sent()) != 0 {
				t.Fatal("infrastructure failures are not dead-lettered")
			}
		})
	}
}

func TestRunner_DeadLetterWriteFailure(t *testing.T) {
	e := newEnv(t)
	e.deadLetter.SendErr = errors.New("redis down")
	r := NewClosePayment(e.deps, e.closure())

	if err := r.Handle(context.Background(), e.inbound.Message([]byte("test"))); err == nil {
		t.Fatal("expected an error when the dead letter cannot be written")
	}
}

func TestRunner_AckFailureIsDeadLettered(t *testing.T) {
	e := newEnv(t)
	e.seed(t, canceled()...)
	e.inbound.AckErr = errors.New("lease lost")
	r := NewClosePayment(e.deps, e.closure())
	payload := queued(t, ev(models.EventUserCanceled, 1, nil), nil)

	if err := r.Handle(context.Background(), e.inbound.Message(payload)); err != nil {
		t.Fatal(err)
	}
	dead := e.deadLetter.Sent()
	if len(dead) != 1 || string(dead[0].Payload) != string(payload) {
		t.Fatalf("dead letters=%+v", dead)
	}
	attrs := dead[0].Options.Attributes
	if attrs[dlq.AttrConsumer] != ClosePaymentName || !strings.Contains(attrs[dlq.AttrError], "acknowledge") {
		t.Fatalf("attrs=%v", attrs)
	}
}

func TestRunner_HandleAcknowledgesCompletedRuns(t *testing.T) {
	e := newEnv(t)
	e.seed(t, canceled()...)
	r := NewClosePayment(e.deps, e.closure())

	if err := r.Handle(context.Background(), e.inbound.Message(queued(t, ev(models.EventUserCanceled, 1, nil), nil))); err != nil {
		t.Fatal(err)
	}
	if len(e.deadLetter.Sent()) != 0 {
		t.Fatal("no dead letter expected")
	}
}

func TestBadTransactionStatusError(t *testing.T) {
	err := &BadTransactionStatusError{TransactionID: "tx1", Expected: []models.Status{models.StatusClosureError}, Actual: models.StatusClosed}
	if got := err.Error(); got != "transaction tx1: expected status CLOSURE_ERROR, got CLOSED" {
		t.Fatalf("error=%q", got)
	}
	empty := &BadTransactionStatusError{TransactionID: "tx1"}
	if got := empty.Error(); got != "transaction tx1: expected status transient, got EMPTY" {
		t.Fatalf("error=%q", got)
	}
}

func TestRunner_RequiresStoresAndDeadLetter(t *testing.T) {
	cases := []struct {
		name  string
		strip func(*Deps)
	}{
		{name: "events", strip: func(d *Deps) { d.Events = nil }},
		{name: "views", strip: func(d *Deps) { d.Views = nil }},
		{name: "dead letter", strip: func(d *Deps) { d.DeadLetter = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			tc.strip(&e.deps)
			defer func() {
				if recover() == nil {
					t.Fatal("expected a panic")
				}
			}()
			NewClosePayment(e.deps, e.closure())
		})
	}
}
