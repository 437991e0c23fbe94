package consumers

import (
	"context"
	"errors"
	"time"

	imetrics "github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

// ErrNoPaymentResult marks an expiration that fired while the settlement
// node had still not sent the payment result.
var ErrNoPaymentResult = errors.New("no send payment result received on time")

// Expiration wires the expiration consumer.
type Expiration struct {
	// Queue is the expiration queue itself, used to wait for the payment result.
	Queue                    queue.Sender
	TransientTTL             time.Duration
	SendPaymentResultTimeout time.Duration
	ExpirationOffset         time.Duration
	Gateway                  Gateway
	RefundRetry              Retrier
}

type expirer struct {
	pipeline
	Expiration
	refunds refunder
}

// NewExpiration expires transactions stuck in a transient status and
// refunds the ones that may have been charged.
func NewExpiration(d Deps, e Expiration) *Runner {
	p := newPipeline(d)
	ex := expirer{pipeline: p, Expiration: e, refunds: refunder{pipeline: p, gateway: e.Gateway, retry: e.RefundRetry}}
	return newRunner(ExpirationName, d, ex.refunds.resumable(ex.run), models.EventActivated, models.EventExpired)
}

func (e expirer) run(ctx context.Context, in Input) (Outcome, error) {
	tx, err := e.load(ctx, in.Event.TransactionID)
	if err != nil {
		return "", err
	}
	if !transaction.IsTransient(tx.Status()) {
		return "", &BadTransactionStatusError{TransactionID: in.Event.TransactionID, Actual: tx.Status(), tx: tx}
	}
	logger := in.Logger.With().Str("status", string(tx.Status())).Logger()

	if since, waiting := transaction.AwaitingOutcomeSince(tx); waiting {
		timeLeft := e.timeLeft(since)
		if timeLeft >= e.ExpirationOffset {
			if _, err := e.Queue.Send(ctx, in.Payload, queue.SendOptions{Delay: timeLeft, TTL: e.TransientTTL}); err != nil {
				return "", infra("reschedule expiration", err)
			}
			imetrics.ExpirationRescheduled.Inc()
			logger.Info().Dur("timeLeft", timeLeft).Msg("still waiting for send payment result, expiration rescheduled")
			return OutcomeRetryScheduled, nil
		}
		logger.Error().Dur("timeLeft", timeLeft).Msg("no send payment result received on time, transaction will be expired")
	}

	expired, err := e.persist(ctx, tx, models.EventExpired, models.ExpiredData{StatusBeforeExpiration: tx.Status()}, logger)
	if err != nil {
		return "", err
	}
	if _, waiting := transaction.AwaitingOutcomeSince(tx); waiting {
		// A redelivery finds EXPIRED and is skipped, so a failed write is
		// only logged.
		if err := e.DeadLetter.For(ExpirationName).Send(ctx, in.Payload, ErrNoPaymentResult); err != nil {
			logger.Error().Err(err).Msg("missing payment result not dead-lettered")
		}
	}
	if !transaction.IsRefundable(expired) {
		return OutcomeSucceeded, nil
	}
	return e.refunds.start(ctx, expired, in.Tracing, logger)
}

// timeLeft is how long the settlement node still has to send the payment
// result for a closure accepted at since.
func (e expirer) timeLeft(since time.Time) time.Duration {
	return since.Add(e.SendPaymentResultTimeout).Sub(e.Now())
}
