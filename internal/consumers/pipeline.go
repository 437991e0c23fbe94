package consumers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	imetrics "github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/retry"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/storage"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

// pipeline holds the steps shared by every consumer.
type pipeline struct {
	Deps
}

func newPipeline(d Deps) pipeline { return pipeline{d.withDefaults()} }

// load rebuilds the current state of transactionID from its event log.
func (p pipeline) load(ctx context.Context, transactionID string) (transaction.Transaction, error) {
	events, err := p.Events.FindByTransactionIDOrderByCreationDateAsc(ctx, transactionID)
	if err != nil {
		return nil, infra("load events", err)
	}
	return transaction.Reduce(events)
}

func expect(tx transaction.Transaction, id string, statuses ...models.Status) error {
	for _, s := range statuses {
		if tx.Status() == s {
			return nil
		}
	}
	return &BadTransactionStatusError{TransactionID: id, Expected: statuses, Actual: tx.Status(), tx: tx}
}

// persist appends an event with code and data to tx and writes the view of
// the resulting state.
func (p pipeline) persist(ctx context.Context, tx transaction.Transaction, code models.EventCode, data models.EventData, logger zerolog.Logger) (transaction.Transaction, error) {
	ev := models.Event{
		ID:            p.NewID(),
		TransactionID: tx.TransactionID(),
		Code:          code,
		Version:       models.V2,
		CreationDate:  p.Now(),
		Data:          data,
	}
	next, err := transaction.Apply(tx, ev)
	if err != nil {
		return nil, err
	}
	if err := p.Events.Save(ctx, ev); err != nil {
		return nil, infra("save "+string(code), err)
	}
	if err := p.saveView(ctx, next); err != nil {
		return nil, err
	}
	logger.Info().Str("newStatus", string(next.Status())).Msg("transaction updated")
	return next, nil
}

// saveView sets the view status to tx's status, creating the row from the
// activation data when it does not exist yet.
func (p pipeline) saveView(ctx context.Context, tx transaction.Transaction) error {
	v, err := p.Views.FindView(ctx, tx.TransactionID())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		base, _ := transaction.BaseOf(tx)
		v = models.TransactionView{
			TransactionID: tx.TransactionID(),
			Amount:        base.Data.TotalAmount(),
			Email:         base.Data.Email,
			ClientID:      base.Data.ClientID,
			CreationDate:  base.CreationDate,
		}
	case err != nil:
		return infra("find view", err)
	}
	v.Status = tx.Status()
	if err := p.Views.SaveView(ctx, v); err != nil {
		return infra("save view", err)
	}
	return nil
}

// syncView writes the view of tx when the stored one is missing or behind,
// which is what a run interrupted between the event and the view writes
// leaves.
func (p pipeline) syncView(ctx context.Context, tx transaction.Transaction, logger zerolog.Logger) error {
	if _, empty := tx.(transaction.Empty); tx == nil || empty {
		return nil
	}
	v, err := p.Views.FindView(ctx, tx.TransactionID())
	switch {
	case err == nil && v.Status == tx.Status():
		return nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return infra("find view", err)
	}
	logger.Warn().Str("viewStatus", string(v.Status)).Str("status", string(tx.Status())).Msg("view behind event log, rewriting")
	return p.saveView(ctx, tx)
}

// scheduleRetry enqueues the next attempt. An exhausted budget is returned
// as is so the caller can compensate; a queue failure is infrastructure.
func scheduleRetry(ctx context.Context, r Retrier, tx transaction.Transaction, attempt int, tracing *models.TracingInfo, logger zerolog.Logger) (Outcome, error) {
	err := r.Enqueue(ctx, tx, attempt, tracing)
	switch {
	case err == nil:
		logger.Warn().Int("attempt", attempt+1).Str("retryCode", string(r.Code())).Msg("retry scheduled")
		return OutcomeRetryScheduled, nil
	case errors.Is(err, retry.ErrNoAttemptsLeft):
		logger.Error().Err(err).Msg("no more attempts left")
		return "", err
	default:
		return "", infra("enqueue retry", err)
	}
}

func observeEffect(effect string, start time.Time) {
	imetrics.EffectLatency.WithLabelValues(effect).Observe(time.Since(start).Seconds())
}

func exhausted(flow string, cause error) error {
	return fmt.Errorf("%s retries exhausted: %w", flow, cause)
}
