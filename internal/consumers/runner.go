package consumers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/dlq"
	imetrics "github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

// Input is a parsed message handed to a pipeline.
type Input struct {
	Event   models.Event
	Tracing *models.TracingInfo
	Shape   models.Shape
	Payload []byte
	Logger  zerolog.Logger
}

// Attempt is the retry count carried by a *_RETRIED event, 0 otherwise.
func (in Input) Attempt() int {
	if d, ok := in.Event.Data.(models.RetriedData); ok {
		return d.RetryCount
	}
	return 0
}

type process func(ctx context.Context, in Input) (Outcome, error)

// Runner parses, runs and acknowledges messages for one consumer.
type Runner struct {
	name     string
	accepted []models.EventCode
	process  process
	pipeline pipeline
	dlq      *dlq.Router
	logger   zerolog.Logger
}

func newRunner(name string, d Deps, p process, accepted ...models.EventCode) *Runner {
	pl := newPipeline(d)
	return &Runner{
		name:     name,
		accepted: accepted,
		process:  p,
		pipeline: pl,
		dlq:      pl.DeadLetter.For(name),
		logger:   pl.Logger.With().Str("consumer", name).Logger(),
	}
}

func (r *Runner) Name() string { return r.name }

// Handle is a queue.Handler. It returns an error only when the message must
// stay unacknowledged: a store, queue or dead letter write failed.
func (r *Runner) Handle(ctx context.Context, m queue.Message) error {
	outcome, err := r.run(ctx, m.Payload)
	if err != nil {
		imetrics.PipelineOutcomes.WithLabelValues(r.name, "failed").Inc()
		return err
	}
	if err := m.Ack(ctx); err != nil {
		r.logger.Error().Err(err).Str("messageId", m.ID).Msg("acknowledge failed")
		if dlErr := r.dlq.Send(ctx, m.Payload, fmt.Errorf("acknowledge: %w", err)); dlErr != nil {
			return dlErr
		}
		outcome = OutcomeDeadLettered
	}
	imetrics.PipelineOutcomes.WithLabelValues(r.name, string(outcome)).Inc()
	return nil
}

// run returns the outcome of one pipeline run, or an infrastructure error.
func (r *Runner) run(ctx context.Context, payload []byte) (Outcome, error) {
	qe, shape, err := models.Parse(payload, r.accepted...)
	if err != nil {
		r.logger.Error().Err(err).Msg("invalid input event")
		return r.deadLetter(ctx, payload, err)
	}
	logger := r.logger.With().
		Str("transactionId", qe.Event.TransactionID).
		Str("eventCode", string(qe.Event.Code)).
		Stringer("shape", shape).
		Logger()
	in := Input{Event: qe.Event, Tracing: qe.TracingInfo, Shape: shape, Payload: payload, Logger: logger}

	outcome, err := r.process(ctx, in)
	var badStatus *BadTransactionStatusError
	var infraErr *InfrastructureError
	switch {
	case err == nil:
		logger.Info().Str("outcome", string(outcome)).Msg("pipeline completed")
		return outcome, nil
	case errors.As(err, &badStatus):
		logger.Info().Err(err).Msg("transaction status changed, nothing to do")
		if err := r.pipeline.syncView(ctx, badStatus.tx, logger); err != nil {
			logger.Error().Err(err).Msg("view sync failed, message left for redelivery")
			return "", err
		}
		return OutcomeSkipped, nil
	case errors.As(err, &infraErr):
		logger.Error().Err(err).Msg("pipeline interrupted, message left for redelivery")
		return "", err
	default:
		logger.Error().Err(err).Msg("pipeline failed")
		return r.deadLetter(ctx, payload, err)
	}
}

func (r *Runner) deadLetter(ctx context.Context, payload []byte, cause error) (Outcome, error) {
	if err := r.dlq.Send(ctx, payload, cause); err != nil {
		return "", infra("dead letter", err)
	}
	return OutcomeDeadLettered, nil
}
