package consumers

import (
	"context"
	"errors"
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/mail"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

// Notification wires the user receipt consumers.
type Notification struct {
	Notifier    Notifier
	Mail        mail.Builder
	Retry       Retrier
	Gateway     Gateway
	RefundRetry Retrier
}

type notifier struct {
	pipeline
	Notification
	refunds refunder
}

func newNotifier(d Deps, n Notification) notifier {
	p := newPipeline(d)
	return notifier{pipeline: p, Notification: n, refunds: refunder{pipeline: p, gateway: n.Gateway, retry: n.RefundRetry}}
}

// NewNotifications sends the receipt mail for USER_RECEIPT_REQUESTED events.
func NewNotifications(d Deps, n Notification) *Runner {
	nt := newNotifier(d, n)
	return newRunner(NotificationsName, d, nt.refunds.resumable(func(ctx context.Context, in Input) (Outcome, error) {
		return nt.run(ctx, in, models.StatusNotificationRequested)
	}), models.EventUserReceiptRequested)
}

// NewNotificationsRetry resends receipt mails that failed.
func NewNotificationsRetry(d Deps, n Notification) *Runner {
	nt := newNotifier(d, n)
	return newRunner(NotificationsRetryName, d, nt.refunds.resumable(func(ctx context.Context, in Input) (Outcome, error) {
		return nt.run(ctx, in, models.StatusNotificationError)
	}), models.EventUserReceiptAddError, models.EventUserReceiptAddRetried)
}

func (n notifier) run(ctx context.Context, in Input, expected models.Status) (Outcome, error) {
	tx, err := n.load(ctx, in.Event.TransactionID)
	if err != nil {
		return "", err
	}
	if err := expect(tx, in.Event.TransactionID, expected); err != nil {
		return "", err
	}
	req, err := n.Mail.Build(tx)
	if err != nil {
		return "", err
	}
	logger := in.Logger.With().Str("template", req.TemplateID).Logger()

	start := time.Now()
	err = n.Notifier.SendEmail(ctx, req)
	observeEffect("send_email", start)
	if err == nil {
		receipt := receiptOf(tx)
		notified, err := n.persist(ctx, tx, models.EventUserReceiptAdded, receipt, logger)
		if err != nil {
			return "", err
		}
		if transaction.IsRefundable(notified) {
			return n.refunds.start(ctx, notified, in.Tracing, logger)
		}
		return OutcomeSucceeded, nil
	}
	if client.IsUnrecoverable(err) {
		logger.Error().Err(err).Msg("unrecoverable error while sending user receipt")
		return OutcomeDiscarded, nil
	}
	logger.Error().Err(err).Int("attempt", in.Attempt()).Msg("user receipt mail failed")

	if _, ok := tx.(transaction.UserReceiptRequested); ok {
		next, perr := n.persistError(ctx, tx, in)
		if perr != nil {
			return "", perr
		}
		tx = next
	}
	scheduled, rerr := scheduleRetry(ctx, n.Retry, tx, in.Attempt(), in.Tracing, logger)
	if rerr == nil {
		return scheduled, nil
	}
	var infraErr *InfrastructureError
	if errors.As(rerr, &infraErr) {
		return "", rerr
	}
	if transaction.IsRefundable(tx) {
		return n.refunds.start(ctx, tx, in.Tracing, logger)
	}
	return "", exhausted("user receipt", errors.Join(rerr, err))
}

func (n notifier) persistError(ctx context.Context, tx transaction.Transaction, in Input) (transaction.Transaction, error) {
	return n.persist(ctx, tx, models.EventUserReceiptAddError, receiptOf(tx), in.Logger)
}

func receiptOf(tx transaction.Transaction) models.UserReceiptData {
	switch t := tx.(type) {
	case transaction.UserReceiptRequested:
		return t.Receipt
	case transaction.UserReceiptError:
		return t.Receipt
	}
	return models.UserReceiptData{}
}
