package consumers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

const refundOK = "OK"

// refunder reverses the authorization of a transaction through the gateway.
type refunder struct {
	pipeline
	gateway Gateway
	retry   Retrier
}

// start appends REFUND_REQUESTED to tx and sends the first refund request.
func (r refunder) start(ctx context.Context, tx transaction.Transaction, tracing *models.TracingInfo, logger zerolog.Logger) (Outcome, error) {
	requested, err := r.persist(ctx, tx, models.EventRefundRequested, models.RefundData{StatusBeforeRefund: tx.Status()}, logger)
	if err != nil {
		return "", err
	}
	return r.refund(ctx, requested, 0, tracing, logger)
}

// resumable wraps p so that a delivery finding the transaction still in
// REFUND_REQUESTED sends the refund again. That status only outlives a run
// when the write after the gateway call failed, leaving no retry behind.
func (r refunder) resumable(p process) process {
	return func(ctx context.Context, in Input) (Outcome, error) {
		outcome, err := p(ctx, in)
		var badStatus *BadTransactionStatusError
		if !errors.As(err, &badStatus) {
			return outcome, err
		}
		requested, ok := badStatus.tx.(transaction.RefundRequested)
		if !ok {
			return outcome, err
		}
		in.Logger.Warn().Msg("refund requested but never completed, resending")
		return r.refund(ctx, requested, 0, in.Tracing, in.Logger)
	}
}

// refund calls the gateway for tx, which is REFUND_REQUESTED or REFUND_ERROR.
func (r refunder) refund(ctx context.Context, tx transaction.Transaction, attempt int, tracing *models.TracingInfo, logger zerolog.Logger) (Outcome, error) {
	auth, ok := transaction.AuthorizationOf(tx)
	if !ok {
		return "", fmt.Errorf("transaction %s in status %s has no authorization to refund", tx.TransactionID(), tx.Status())
	}
	logger = logger.With().Str("authorizationRequestId", auth.AuthorizationRequestID).Str("gateway", string(auth.PaymentGateway)).Logger()

	start := time.Now()
	resp, err := r.gateway.RequestRefund(ctx, auth.PaymentGateway, auth.AuthorizationRequestID)
	observeEffect("refund", start)
	if err == nil && resp.Outcome == refundOK {
		if _, err := r.persist(ctx, tx, models.EventRefunded, models.RefundData{StatusBeforeRefund: tx.Status()}, logger); err != nil {
			return "", err
		}
		return OutcomeSucceeded, nil
	}
	if err == nil {
		err = fmt.Errorf("refund outcome %q", resp.Outcome)
	}
	logger.Error().Err(err).Int("attempt", attempt).Msg("refund failed")

	if _, requested := tx.(transaction.RefundRequested); requested {
		next, perr := r.persist(ctx, tx, models.EventRefundError, models.RefundData{StatusBeforeRefund: tx.Status()}, logger)
		if perr != nil {
			return "", perr
		}
		tx = next
	}
	if client.IsUnrecoverable(err) {
		return OutcomeDiscarded, nil
	}
	outcome, rerr := scheduleRetry(ctx, r.retry, tx, attempt, tracing, logger)
	if rerr == nil {
		return outcome, nil
	}
	var infraErr *InfrastructureError
	if errors.As(rerr, &infraErr) {
		return "", rerr
	}
	return "", exhausted("refund", errors.Join(rerr, err))
}
