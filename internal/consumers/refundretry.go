package consumers

import (
	"context"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

// Refund wires the refund retry consumer.
type Refund struct {
	Gateway Gateway
	Retry   Retrier
}

// NewRefundRetry resends refunds that ended in REFUND_ERROR. Exhausted
// retries are dead-lettered.
func NewRefundRetry(d Deps, r Refund) *Runner {
	p := newPipeline(d)
	rf := refunder{pipeline: p, gateway: r.Gateway, retry: r.Retry}
	return newRunner(RefundRetryName, d, func(ctx context.Context, in Input) (Outcome, error) {
		tx, err := rf.load(ctx, in.Event.TransactionID)
		if err != nil {
			return "", err
		}
		if err := expect(tx, in.Event.TransactionID, models.StatusRefundError); err != nil {
			return "", err
		}
		return rf.refund(ctx, tx, in.Attempt(), in.Tracing, in.Logger)
	}, models.EventRefundRetried)
}
