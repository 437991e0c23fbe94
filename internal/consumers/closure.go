package consumers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

// Closure wires the settlement closure consumers.
type Closure struct {
	Settlement  Settlement
	Cache       PaymentRequestCache // optional
	Retry       Retrier
	Gateway     Gateway
	RefundRetry Retrier
}

type closer struct {
	pipeline
	Closure
	refunds refunder
}

func newCloser(d Deps, c Closure) closer {
	p := newPipeline(d)
	return closer{pipeline: p, Closure: c, refunds: refunder{pipeline: p, gateway: c.Gateway, retry: c.RefundRetry}}
}

// NewClosePayment closes user-canceled transactions with a KO outcome.
func NewClosePayment(d Deps, c Closure) *Runner {
	cl := newCloser(d, c)
	return newRunner(ClosePaymentName, d, cl.refunds.resumable(func(ctx context.Context, in Input) (Outcome, error) {
		tx, err := cl.load(ctx, in.Event.TransactionID)
		if err != nil {
			return "", err
		}
		if err := expect(tx, in.Event.TransactionID, models.StatusCancellationRequested); err != nil {
			return "", err
		}
		return cl.close(ctx, tx, models.OutcomeKO, 0, in)
	}), models.EventUserCanceled)
}

// NewClosureRetry retries closures that failed, either on their first
// CLOSURE_ERROR delivery or on a CLOSURE_RETRIED event.
func NewClosureRetry(d Deps, c Closure) *Runner {
	cl := newCloser(d, c)
	return newRunner(ClosureRetryName, d, cl.refunds.resumable(func(ctx context.Context, in Input) (Outcome, error) {
		tx, err := cl.load(ctx, in.Event.TransactionID)
		if err != nil {
			return "", err
		}
		if err := expect(tx, in.Event.TransactionID, models.StatusClosureError); err != nil {
			return "", err
		}
		ce := tx.(transaction.ClosureError)
		outcome := models.OutcomeKO
		if prev, ok := ce.Previous.(transaction.AuthorizationCompleted); ok {
			outcome = prev.Completed.Outcome
		}
		return cl.close(ctx, ce, outcome, in.Attempt(), in)
	}), models.EventClosureError, models.EventClosureRetried)
}

// close sends the closure of tx (CANCELLATION_REQUESTED or CLOSURE_ERROR) to
// the settlement node and persists the result.
func (c closer) close(ctx context.Context, tx transaction.Transaction, outcome models.Outcome, attempt int, in Input) (Outcome, error) {
	logger := in.Logger
	defer c.invalidate(ctx, tx, logger)

	start := time.Now()
	resp, err := c.Settlement.ClosePayment(ctx, closeRequest(tx, outcome, c.Now()))
	observeEffect("close_payment", start)
	if err == nil {
		closed, err := c.persist(ctx, tx, models.EventClosed, models.ClosureData{Outcome: resp}, logger)
		if err != nil {
			return "", err
		}
		if transaction.IsRefundable(closed) {
			logger.Warn().Str("closeOutcome", string(resp)).Msg("closure refused by the settlement node, refunding")
			return c.refunds.start(ctx, closed, in.Tracing, logger)
		}
		return OutcomeSucceeded, nil
	}
	if client.IsUnrecoverable(err) {
		logger.Error().Err(err).Msg("unrecoverable error while closing payment")
		return OutcomeDiscarded, nil
	}
	logger.Error().Err(err).Int("attempt", attempt).Msg("close payment failed")

	ce, ok := tx.(transaction.ClosureError)
	if !ok {
		next, perr := c.persist(ctx, tx, models.EventClosureError, nil, logger)
		if perr != nil {
			return "", perr
		}
		ce = next.(transaction.ClosureError)
	}
	scheduled, rerr := scheduleRetry(ctx, c.Retry, ce, attempt, in.Tracing, logger)
	if rerr == nil {
		return scheduled, nil
	}
	var infraErr *InfrastructureError
	if errors.As(rerr, &infraErr) {
		return "", rerr
	}
	return c.giveUp(ctx, ce, errors.Join(rerr, err), in)
}

// giveUp refunds an authorized payment whose closure could not be sent, or
// marks the closure as failed and dead-letters the message.
func (c closer) giveUp(ctx context.Context, ce transaction.ClosureError, cause error, in Input) (Outcome, error) {
	if transaction.IsRefundable(ce) {
		return c.refunds.start(ctx, ce, in.Tracing, in.Logger)
	}
	if _, err := c.persist(ctx, ce, models.EventClosureFailed, nil, in.Logger); err != nil {
		return "", err
	}
	return "", exhausted("closure", cause)
}

func (c closer) invalidate(ctx context.Context, tx transaction.Transaction, logger zerolog.Logger) {
	if c.Cache == nil {
		return
	}
	base, _ := transaction.BaseOf(tx)
	for _, n := range base.Data.PaymentNotices {
		if err := c.Cache.Delete(ctx, n.RptID); err != nil {
			logger.Warn().Err(err).Str("rptId", n.RptID).Msg("payment request cache invalidation failed")
			continue
		}
		logger.Debug().Str("rptId", n.RptID).Msg("payment request cache invalidated")
	}
}

func closeRequest(tx transaction.Transaction, outcome models.Outcome, now time.Time) client.ClosePaymentRequest {
	base, _ := transaction.BaseOf(tx)
	req := client.ClosePaymentRequest{
		TransactionID:      tx.TransactionID(),
		Outcome:            outcome,
		TimestampOperation: now.UTC(),
	}
	for _, n := range base.Data.PaymentNotices {
		req.PaymentTokens = append(req.PaymentTokens, n.PaymentToken)
	}
	if auth, ok := transaction.AuthorizationOf(tx); ok {
		req.TotalAmount = auth.Amount + auth.Fee
		req.Fee = auth.Fee
		req.PspID = auth.PspID
		req.PaymentTypeCode = auth.PaymentTypeCode
	}
	if ce, ok := tx.(transaction.ClosureError); ok {
		if prev, ok := ce.Previous.(transaction.AuthorizationCompleted); ok {
			req.AuthorizationCode = prev.Completed.AuthorizationCode
		}
	}
	return req
}
