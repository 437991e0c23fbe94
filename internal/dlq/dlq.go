package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	imetrics "github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

// Attribute keys carried next to a dead-lettered payload.
const (
	AttrError    = "error"
	AttrConsumer = "consumer"
	AttrFailedAt = "failedAt"
)

// Router writes failed payloads to the dead letter queue. The payload is
// stored byte for byte; the failure context travels as message attributes.
type Router struct {
	sender   queue.Sender
	ttl      time.Duration
	consumer string
	now      func() time.Time
	logger   zerolog.Logger
}

func New(sender queue.Sender, ttl time.Duration, logger zerolog.Logger) *Router {
	return &Router{sender: sender, ttl: ttl, now: time.Now, logger: logger}
}

// For returns a copy of r that tags messages with consumer.
func (r *Router) For(consumer string) *Router {
	c := *r
	c.consumer = consumer
	c.logger = r.logger.With().Str("consumer", consumer).Logger()
	return &c
}

// WithClock returns a copy of r using now for failedAt.
func (r *Router) WithClock(now func() time.Time) *Router {
	c := *r
	c.now = now
	return &c
}

// Send writes payload with no visibility delay. A write failure is returned
// to the caller, which must not acknowledge the original message.
func (r *Router) Send(ctx context.Context, payload []byte, cause error) error {
	attrs := map[string]string{
		AttrFailedAt: r.now().UTC().Format(time.RFC3339Nano),
	}
	if cause != nil {
		attrs[AttrError] = cause.Error()
	}
	if r.consumer != "" {
		attrs[AttrConsumer] = r.consumer
	}
	id, err := r.sender.Send(ctx, payload, queue.SendOptions{Delay: 0, TTL: r.ttl, Attributes: attrs})
	if err != nil {
		r.logger.Error().Err(err).AnErr("cause", cause).Msg("dead letter write failed")
		return fmt.Errorf("dead letter write: %w", err)
	}
	r.logger.Warn().AnErr("cause", cause).Str("messageId", id).Msg("message dead-lettered")
	imetrics.DLQCount.WithLabelValues(r.consumer).Inc()
	return nil
}
