// Package consumers implements the per-message pipelines of the dispatcher.
// Each pipeline parses a message, rebuilds the transaction from its event
// log, checks the expected status, performs one external call and persists
// the resulting event and view. Runner maps every run to an Outcome and
// decides whether the message is acknowledged.
package consumers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/dlq"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/mail"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/storage"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

// Consumer names, used in logs, metrics and dead letter attributes.
const (
	ClosePaymentName           = "close-payment"
	ClosureRetryName           = "closure-retry"
	NotificationsName          = "notifications"
	NotificationsRetryName     = "notifications-retry"
	AuthorizationRequestedName = "authorization-requested"
	ExpirationName             = "expiration"
	RefundRetryName            = "refund-retry"
)

// Outcome is how a pipeline run ended.
type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeDeadLettered   Outcome = "dead_lettered"
	OutcomeDiscarded      Outcome = "discarded"
)

// BadTransactionStatusError reports a delivery for a transaction that is no
// longer (or not yet) in the status the consumer handles.
type BadTransactionStatusError struct {
	TransactionID string
	Expected      []models.Status
	Actual        models.Status

	// tx is the state the delivery found.
	tx transaction.Transaction
}

func (e *BadTransactionStatusError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	actual := string(e.Actual)
	if actual == "" {
		actual = "EMPTY"
	}
	want := strings.Join(expected, "|")
	if want == "" {
		want = "transient"
	}
	return fmt.Sprintf("transaction %s: expected status %s, got %s", e.TransactionID, want, actual)
}

// InfrastructureError wraps a failed store, queue or dead letter write. The
// message that caused it is left unacknowledged.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *InfrastructureError) Unwrap() error { return e.Err }

func infra(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

type Settlement interface {
	ClosePayment(ctx context.Context, req client.ClosePaymentRequest) (models.Outcome, error)
}

type Gateway interface {
	RequestRefund(ctx context.Context, gateway models.PaymentGateway, authorizationRequestID string) (client.RefundResponse, error)
	GetAuthorizationState(ctx context.Context, authorizationRequestID string) (client.AuthorizationState, error)
}

type Notifier interface {
	SendEmail(ctx context.Context, req mail.Request) error
}

type UserStats interface {
	SaveLastUsage(ctx context.Context, userID string, usage client.LastUsage) error
}

type PaymentRequestCache interface {
	Delete(ctx context.Context, rptID string) error
}

// Retrier is satisfied by *retry.Service.
type Retrier interface {
	Enqueue(ctx context.Context, tx transaction.Transaction, attempt int, tracing *models.TracingInfo) error
	Code() models.EventCode
}

// Deps are shared by every consumer. Events, Views and DeadLetter are
// required; the constructors panic without them.
type Deps struct {
	Events     storage.EventStore
	Views      storage.ViewStore
	DeadLetter *dlq.Router
	Logger     zerolog.Logger
	Now        func() time.Time
	NewID      func() string
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil || d.Views == nil || d.DeadLetter == nil {
		panic("consumers: Deps needs Events, Views and DeadLetter")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}
